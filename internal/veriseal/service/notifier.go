package service

import (
	"context"
	"log"
	"strings"
)

// Notification tells the receiver how to unlock the journey view.
type Notification struct {
	PackageID        string
	ReceiverPhone    string
	VerificationCode string
}

type Notifier interface {
	NotifyReceiver(ctx context.Context, n Notification) error
}

// LogNotifier stands in for an SMS gateway: it logs that a message would
// have been sent, with the phone number masked and the code withheld.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyReceiver(_ context.Context, msg Notification) error {
	if strings.TrimSpace(msg.ReceiverPhone) == "" {
		return nil
	}
	n.logger.Printf("sms to %s: verification code for package %s issued (%d digits)",
		MaskPhone(msg.ReceiverPhone), msg.PackageID, len(msg.VerificationCode))
	return nil
}

// MaskPhone keeps the last four characters: "+919876543210" -> "******3210".
func MaskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return "******" + phone[len(phone)-4:]
}
