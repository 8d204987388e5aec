package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrade/internal/domain"
	"github.com/efreitasn/papertrade/internal/metrics"
)

// Webhook event types.
const (
	EventOrderFilled    = "order.filled"
	EventOrderCancelled = "order.cancelled"
)

// webhookPayload is the JSON body of every webhook.
type webhookPayload struct {
	Event     string           `json:"event"`
	Timestamp string           `json:"timestamp"`
	Data      webhookOrderData `json:"data"`
}

type webhookOrderData struct {
	OrderID       string           `json:"order_id"`
	OwnerID       string           `json:"owner_id"`
	Symbol        string           `json:"symbol"`
	Side          string           `json:"side"`
	Quantity      decimal.Decimal  `json:"quantity"`
	LimitPrice    decimal.Decimal  `json:"limit_price"`
	Status        string           `json:"status"`
	TransactionID string           `json:"transaction_id,omitempty"`
	FillPrice     *decimal.Decimal `json:"fill_price,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// WebhookNotifier posts matcher outcomes to a single configured URL.
// Delivery is fire-and-forget: failures are logged and counted, never
// retried.
type WebhookNotifier struct {
	url     string
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	wg      sync.WaitGroup
}

// NewWebhookNotifier creates a WebhookNotifier posting to url.
func NewWebhookNotifier(url string, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: timeout,
		},
		logger:  logger,
		metrics: m,
	}
}

func (n *WebhookNotifier) OrderFilled(o *domain.Order, tx *domain.Transaction) {
	data := webhookData(o)
	price := tx.Price
	data.FillPrice = &price
	data.TransactionID = tx.TransactionID
	n.dispatch(EventOrderFilled, tx.ExecutedAt, data)
}

func (n *WebhookNotifier) OrderCancelled(o *domain.Order, reason string) {
	data := webhookData(o)
	data.Reason = reason
	n.dispatch(EventOrderCancelled, o.UpdatedAt, data)
}

// Wait blocks until every in-flight delivery has finished.
func (n *WebhookNotifier) Wait() {
	n.wg.Wait()
}

func (n *WebhookNotifier) dispatch(event string, at time.Time, data webhookOrderData) {
	payload := webhookPayload{
		Event:     event,
		Timestamp: at.UTC().Truncate(time.Second).Format(time.RFC3339),
		Data:      data,
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliver(event, payload)
	}()
}

// deliver sends the payload via HTTP POST with the delivery headers.
func (n *WebhookNotifier) deliver(event string, payload webhookPayload) {
	deliveryID := uuid.New().String()
	err := n.post(event, deliveryID, payload)
	if err != nil {
		n.logger.Warn("webhook delivery failed",
			slog.String("event", event),
			slog.String("delivery_id", deliveryID),
			slog.String("order_id", payload.Data.OrderID),
			slog.String("error", err.Error()),
		)
		n.metrics.WebhookDelivery.WithLabelValues("error").Inc()
		return
	}
	n.metrics.WebhookDelivery.WithLabelValues("ok").Inc()
}

func (n *WebhookNotifier) post(event, deliveryID string, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", deliveryID)
	req.Header.Set("X-Event-Type", event)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func webhookData(o *domain.Order) webhookOrderData {
	return webhookOrderData{
		OrderID:    o.OrderID,
		OwnerID:    o.OwnerID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Quantity:   o.Quantity,
		LimitPrice: o.LimitPrice,
		Status:     string(o.Status),
	}
}
