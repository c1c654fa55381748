// Package sms delivers text messages through Twilio.
package sms

import (
	"context"
	"errors"
	"fmt"

	"github.com/nyaruka/phonenumbers"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

var (
	// ErrInvalidNumber is returned for numbers that are not valid E.164.
	ErrInvalidNumber = errors.New("invalid phone number")
	ErrNotConfigured = errors.New("sms sender not configured")
)

// Normalize checks that num is a valid international number written with a
// leading + and returns its E.164 form.
func Normalize(num string) (string, error) {
	if num == "" {
		return "", fmt.Errorf("missing number: %w", ErrInvalidNumber)
	}
	if num[0] != '+' {
		return "", fmt.Errorf("%q must start with +: %w", num, ErrInvalidNumber)
	}
	parsed, err := phonenumbers.Parse(num, "")
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("%q: %w", num, ErrInvalidNumber)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// messageCreator is the part of the Twilio REST API the sender uses.
type messageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

// Sender sends SMS through Twilio's messages API.
type Sender struct {
	from string
	api  messageCreator
}

func NewSender(accountSID, authToken, from string) *Sender {
	s := &Sender{from: from}
	if accountSID != "" && authToken != "" {
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		})
		s.api = client.Api
	}
	return s
}

func (s *Sender) Configured() bool {
	return s.api != nil && s.from != ""
}

// Send delivers body to the number to. The Twilio client does not take a
// context, so ctx is only checked before the request.
func (s *Sender) Send(ctx context.Context, to, body string) error {
	if !s.Configured() {
		return ErrNotConfigured
	}
	number, err := Normalize(to)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &api.CreateMessageParams{}
	params.SetBody(body)
	params.SetFrom(s.from)
	params.SetTo(number)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}
	if resp.Sid == nil {
		return fmt.Errorf("twilio create message: no message sid returned")
	}
	return nil
}
