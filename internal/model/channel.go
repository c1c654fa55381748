package model

import (
	"fmt"
	"strings"
)

// Channel is a notification channel a reminder can be delivered on.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// Channels lists every supported channel in dispatch order.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// ParseChannel accepts the channel name in any case.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown channel %q", s)
	}
	return c, nil
}

// ChannelSet is an ordered set of channels. Order is preserved, duplicates are dropped.
type ChannelSet []Channel

// NewChannelSet validates and deduplicates channels, keeping first-seen order.
func NewChannelSet(channels ...Channel) (ChannelSet, error) {
	out := make(ChannelSet, 0, len(channels))
	for _, c := range channels {
		if !c.Valid() {
			return nil, fmt.Errorf("unknown channel %q", c)
		}
		if out.Contains(c) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s ChannelSet) Contains(c Channel) bool {
	for _, x := range s {
		if x == c {
			return true
		}
	}
	return false
}

// Without returns the set minus c.
func (s ChannelSet) Without(c Channel) ChannelSet {
	out := make(ChannelSet, 0, len(s))
	for _, x := range s {
		if x != c {
			out = append(out, x)
		}
	}
	return out
}

// String encodes the set as a comma separated list for storage.
func (s ChannelSet) String() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

// ParseChannelSet decodes the storage form written by String.
func ParseChannelSet(s string) (ChannelSet, error) {
	if strings.TrimSpace(s) == "" {
		return ChannelSet{}, nil
	}
	parts := strings.Split(s, ",")
	channels := make([]Channel, 0, len(parts))
	for _, p := range parts {
		c, err := ParseChannel(p)
		if err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return NewChannelSet(channels...)
}
