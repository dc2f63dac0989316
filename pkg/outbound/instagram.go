// Package outbound is the sending collaborator: it delivers handler
// replies back to the platform. A send failure is non-fatal to engine
// state; retrying the send is the caller's concern.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Sender delivers one text message to a platform recipient.
type Sender interface {
	Send(ctx context.Context, recipientID, text string) error
}

// InstagramSender posts replies through the Instagram Graph API.
type InstagramSender struct {
	baseURL     string
	accessToken string
	client      *http.Client
	logger      *logrus.Logger
}

func NewInstagramSender(baseURL, accessToken string, logger *logrus.Logger) *InstagramSender {
	return &InstagramSender{
		baseURL:     baseURL,
		accessToken: accessToken,
		client:      &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
	}
}

type sendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

func (s *InstagramSender) Send(ctx context.Context, recipientID, text string) error {
	var payload sendRequest
	payload.Recipient.ID = recipientID
	payload.Message.Text = text

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/me/messages?access_token=%s", s.baseURL, s.accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.logger.WithFields(logrus.Fields{
			"status":       resp.Status,
			"recipient_id": recipientID,
		}).Error("Graph API rejected outbound message")
		return fmt.Errorf("graph api error: %s body=%s", resp.Status, respBody)
	}

	s.logger.WithField("recipient_id", recipientID).Debug("Sent outbound message")
	return nil
}
