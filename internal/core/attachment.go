package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AttachmentKind discriminates the payloads carried in a transaction's
// attachment field.
type AttachmentKind int

const (
	AttachmentNone AttachmentKind = iota
	AttachmentURL
	AttachmentInvoicePayment
)

// invoicePayPrefix is the stored-state marker prefix for invoice payments.
// The full wire form is invoice_pay:<creditCardAccountId>:<YYYY-M> with a
// zero-indexed month. It must be preserved byte for byte: undo-payment
// relies on matching it back.
const invoicePayPrefix = "invoice_pay:"

// Attachment is the tagged payload behind a transaction's attachment field:
// either a plain URL or the structured invoice-payment marker. It is parsed
// once when a row is loaded; business logic never re-greps the string.
type Attachment struct {
	Kind AttachmentKind

	// URL payload.
	URL string

	// Invoice-payment payload.
	CardID     string
	Year       int
	MonthIndex int // zero-indexed: January = 0
}

// InvoicePaymentMarker builds the marker attachment for a card's billing
// month. month is the ordinary one-indexed calendar month.
func InvoicePaymentMarker(cardID string, year int, month time.Month) Attachment {
	return Attachment{
		Kind:       AttachmentInvoicePayment,
		CardID:     cardID,
		Year:       year,
		MonthIndex: int(month) - 1,
	}
}

// URLAttachment wraps a plain attachment URL.
func URLAttachment(url string) Attachment {
	if url == "" {
		return Attachment{}
	}
	return Attachment{Kind: AttachmentURL, URL: url}
}

// ParseAttachment decodes the stored attachment string. Anything that does
// not match the invoice-payment wire format is treated as a URL; malformed
// invoice_pay strings also fall back to URL so stored state never fails to
// load.
func ParseAttachment(s string) Attachment {
	if s == "" {
		return Attachment{}
	}
	if !strings.HasPrefix(s, invoicePayPrefix) {
		return Attachment{Kind: AttachmentURL, URL: s}
	}
	rest := s[len(invoicePayPrefix):]
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 {
		return Attachment{Kind: AttachmentURL, URL: s}
	}
	cardID, period := rest[:idx], rest[idx+1:]
	dash := strings.Index(period, "-")
	if dash <= 0 {
		return Attachment{Kind: AttachmentURL, URL: s}
	}
	year, errY := strconv.Atoi(period[:dash])
	monthIdx, errM := strconv.Atoi(period[dash+1:])
	if errY != nil || errM != nil || monthIdx < 0 || monthIdx > 11 {
		return Attachment{Kind: AttachmentURL, URL: s}
	}
	return Attachment{
		Kind:       AttachmentInvoicePayment,
		CardID:     cardID,
		Year:       year,
		MonthIndex: monthIdx,
	}
}

// String renders the canonical stored form.
func (a Attachment) String() string {
	switch a.Kind {
	case AttachmentURL:
		return a.URL
	case AttachmentInvoicePayment:
		return fmt.Sprintf("%s%s:%d-%d", invoicePayPrefix, a.CardID, a.Year, a.MonthIndex)
	default:
		return ""
	}
}

// IsInvoicePayment reports whether the attachment marks an invoice payment.
func (a Attachment) IsInvoicePayment() bool {
	return a.Kind == AttachmentInvoicePayment
}

// IsPaymentFor reports whether the attachment marks a payment on the given
// card, any period.
func (a Attachment) IsPaymentFor(cardID string) bool {
	return a.Kind == AttachmentInvoicePayment && a.CardID == cardID
}

// Month returns the one-indexed calendar month of an invoice-payment marker.
func (a Attachment) Month() time.Month {
	return time.Month(a.MonthIndex + 1)
}
