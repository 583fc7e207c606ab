package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"mailforge/models"
	"mailforge/tracking"
)

const replySnippetLimit = 2000

// ReplyWorker polls an IMAP mailbox for replies to sent mail. A reply is
// matched back through its In-Reply-To header to the message ID we stamped
// on the outgoing email, then recorded as a responded event.
type ReplyWorker struct {
	DB       *gorm.DB
	Recorder *tracking.Recorder
	Logger   logrus.FieldLogger

	Host     string
	Port     int
	Username string
	Password string
	Interval time.Duration
}

func NewReplyWorker(db *gorm.DB, recorder *tracking.Recorder, logger logrus.FieldLogger,
	host string, port int, username, password string, interval time.Duration) *ReplyWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReplyWorker{
		DB:       db,
		Recorder: recorder,
		Logger:   logger,
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		Interval: interval,
	}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	if rw.Host == "" {
		rw.Logger.Info("no IMAP mailbox configured, reply worker disabled")
		return
	}
	rw.Logger.Info("reply worker started")

	ticker := time.NewTicker(rw.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rw.Logger.Info("reply worker shutting down")
			return
		case <-ticker.C:
			if err := rw.pollInbox(ctx); err != nil {
				rw.Logger.WithError(err).Error("inbox poll failed")
			}
		}
	}
}

func (rw *ReplyWorker) pollInbox(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", rw.Host, rw.Port)
	imapClient, err := client.DialTLS(addr, &tls.Config{ServerName: rw.Host})
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %v", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(rw.Username, rw.Password); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %v", err)
	}

	if _, err := imapClient.Select("INBOX", false); err != nil {
		return fmt.Errorf("failed to select mailbox: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search messages: %v", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset,
			[]imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	for msg := range messages {
		if err := rw.processMessage(ctx, msg); err != nil {
			rw.Logger.WithError(err).WithField("seq", msg.SeqNum).Warn("reply processing failed")
		}
	}

	if err := <-done; err != nil {
		return fmt.Errorf("error during fetch: %v", err)
	}
	return nil
}

func (rw *ReplyWorker) processMessage(ctx context.Context, msg *imap.Message) error {
	if msg.Envelope == nil || msg.Envelope.InReplyTo == "" {
		return nil
	}

	occurredAt := msg.Envelope.Date
	snippet := rw.extractSnippet(msg)

	// Message IDs may arrive with or without angle brackets
	normalized := strings.Trim(msg.Envelope.InReplyTo, "<> ")
	candidates := []string{msg.Envelope.InReplyTo, normalized, "<" + normalized + ">"}

	var rec models.CampaignRecipient
	err := rw.DB.WithContext(ctx).
		Where("message_id IN ?", candidates).First(&rec).Error
	if err == nil {
		return rw.Recorder.Record(ctx, tracking.Event{
			CampaignID: rec.CampaignID,
			ContactID:  rec.ContactID,
			Type:       models.EventResponded,
			OccurredAt: occurredAt,
			Payload:    snippet,
		})
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}

	var email models.SequenceEmail
	err = rw.DB.WithContext(ctx).
		Where("message_id IN ?", candidates).First(&email).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	var enrollment models.SequenceContact
	if err := rw.DB.WithContext(ctx).First(&enrollment, email.SequenceContactID).Error; err != nil {
		return err
	}

	return rw.Recorder.Record(ctx, tracking.Event{
		ContactID:       enrollment.ContactID,
		SequenceEmailID: &email.ID,
		Type:            models.EventResponded,
		OccurredAt:      occurredAt,
		Payload:         snippet,
	})
}

// extractSnippet pulls the first text part of the reply for the event log
func (rw *ReplyWorker) extractSnippet(msg *imap.Message) string {
	section := imap.BodySectionName{Peek: true}
	literal := msg.GetBody(&section)
	if literal == nil {
		// Some servers key the body under the non-peek section name
		literal = msg.GetBody(&imap.BodySectionName{})
	}
	if literal == nil {
		return ""
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return ""
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ""
		}
		if _, ok := part.Header.(*mail.InlineHeader); ok {
			body, err := io.ReadAll(io.LimitReader(part.Body, replySnippetLimit))
			if err != nil {
				return ""
			}
			text := strings.TrimSpace(string(body))
			if text != "" {
				return text
			}
		}
	}
	return ""
}
