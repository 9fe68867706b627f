package tfa

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MrEthical07/threemaGW/gateway"
	"github.com/MrEthical07/threemaGW/inbound"
)

// FilterType selects a filter predicate.
type FilterType uint8

const (
	// FilterRegex requires the text to match Data.
	FilterRegex FilterType = iota + 1
	// FilterReplace replaces every Data substring in the text by Replacement.
	FilterReplace
	// FilterReceiptEqual requires the receipt status to equal Data.
	FilterReceiptEqual
	// FilterReceiptAtLeast requires the receipt status to be >= Data.
	FilterReceiptAtLeast
	// FilterReceiptLess requires the receipt status to be < Data.
	FilterReceiptLess
)

// ErrInvalidFilter is returned for filters whose data cannot be used.
var ErrInvalidFilter = errors.New("invalid message filter")

// Filter is one step of a filter chain. A failed filter with FailOnError
// rejects the message; without it the failure is ignored.
type Filter struct {
	Type        FilterType
	Data        string
	Replacement string
	FailOnError bool
}

// RegexFilter is shorthand for a failing regex filter.
func RegexFilter(pattern string) Filter {
	return Filter{Type: FilterRegex, Data: pattern, FailOnError: true}
}

// ReplaceFilter is shorthand for an advisory replace filter.
func ReplaceFilter(old, replacement string) Filter {
	return Filter{Type: FilterReplace, Data: old, Replacement: replacement}
}

// ReceiptFilter is shorthand for a failing receipt comparison.
func ReceiptFilter(t FilterType, status gateway.ReceiptType) Filter {
	return Filter{Type: t, Data: strconv.Itoa(int(status)), FailOnError: true}
}

// applyFilters runs the chain in order. It returns the possibly transformed
// message and whether it survived.
func applyFilters(msg inbound.Message, filters []Filter) (inbound.Message, bool, error) {
	for _, f := range filters {
		next, ok, err := applyFilter(msg, f)
		if err != nil {
			return msg, false, err
		}
		if !ok {
			if f.FailOnError {
				return msg, false, nil
			}
			continue
		}
		msg = next
	}
	return msg, true, nil
}

func applyFilter(msg inbound.Message, f Filter) (inbound.Message, bool, error) {
	switch f.Type {
	case FilterRegex:
		text, ok := msg.Payload.(gateway.TextMessage)
		if !ok {
			return msg, false, nil
		}
		re, err := regexp.Compile(f.Data)
		if err != nil {
			return msg, false, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		return msg, re.MatchString(text.Text), nil

	case FilterReplace:
		text, ok := msg.Payload.(gateway.TextMessage)
		if !ok || f.Data == "" {
			return msg, false, nil
		}
		msg.Payload = gateway.TextMessage{Text: strings.ReplaceAll(text.Text, f.Data, f.Replacement)}
		return msg, true, nil

	case FilterReceiptEqual, FilterReceiptAtLeast, FilterReceiptLess:
		receipt, ok := msg.Payload.(gateway.DeliveryReceipt)
		if !ok {
			return msg, false, nil
		}
		want, err := strconv.Atoi(f.Data)
		if err != nil {
			return msg, false, fmt.Errorf("%w: receipt status %q", ErrInvalidFilter, f.Data)
		}
		got := int(receipt.Status)
		switch f.Type {
		case FilterReceiptEqual:
			return msg, got == want, nil
		case FilterReceiptAtLeast:
			return msg, got >= want, nil
		default:
			return msg, got < want, nil
		}

	default:
		return msg, false, fmt.Errorf("%w: type %d", ErrInvalidFilter, f.Type)
	}
}
