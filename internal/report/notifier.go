package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier delivers a run report
type Notifier interface {
	Send(ctx context.Context, r *RunReport) error
}

// SMTPConfig configures SMTPNotifier
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       []string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier mails the rendered HTML report
type SMTPNotifier struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
	now      func() time.Time
}

func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}
}

func (n *SMTPNotifier) Send(ctx context.Context, r *RunReport) error {
	if len(n.cfg.To) == 0 {
		return fmt.Errorf("no alert recipient configured")
	}

	body, err := RenderHTML(r)
	if err != nil {
		return err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(n.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", Subject(r)))
	fmt.Fprintf(&msg, "Date: %s\r\n", n.now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	msg.Write(body)

	var auth smtp.Auth
	if n.cfg.User != "" {
		auth = smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Host)
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	if err := n.sendMail(addr, auth, n.cfg.From, n.cfg.To, msg.Bytes()); err != nil {
		return fmt.Errorf("failed to send report mail: %w", err)
	}
	return nil
}

// LogNotifier writes the report summary to the log when no mail server is configured
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, r *RunReport) error {
	fields := []zap.Field{
		zap.String("run_id", r.RunID.String()),
		zap.String("outcome", string(r.Outcome)),
		zap.String("mode", r.Mode),
		zap.String("snapshot", r.SnapshotID),
		zap.Int("products", r.Validation.Stats.Total),
		zap.Int("price_changes", r.Changes.Prices()),
		zap.Int("stock_changes", r.Changes.Stocks()),
		zap.Int("new", r.Changes.New),
		zap.Int("removed", r.Changes.Removed),
		zap.Int("enqueued", r.Staged.Enqueued.Total()),
		zap.Int("unmapped", len(r.Staged.Unmapped)),
		zap.Int("discontinued", len(r.Discontinued)),
		zap.Int("dead_letters", len(r.DeadLetters)),
		zap.Duration("duration", r.Duration()),
	}

	if r.Succeeded() {
		n.logger.Info(Subject(r), fields...)
		return nil
	}
	n.logger.Error(Subject(r), append(fields, zap.String("stage", r.FailedStage), zap.String("error", r.Error))...)
	return nil
}

// MultiNotifier fans a report out to every notifier and joins their errors
type MultiNotifier []Notifier

func (m MultiNotifier) Send(ctx context.Context, r *RunReport) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
