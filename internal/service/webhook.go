package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vipul43/ledgersync/internal/models"
)

// WebhookPayload is the body of a push notification
type WebhookPayload struct {
	Events             []WebhookEvent `json:"events"`
	FirstEventSequence int64          `json:"firstEventSequence"`
	LastEventSequence  int64          `json:"lastEventSequence"`
}

type WebhookEvent struct {
	ResourceURL   string `json:"resourceUrl"`
	ResourceID    string `json:"resourceId"`
	EventDateUTC  string `json:"eventDateUtc"`
	EventType     string `json:"eventType"`     // CREATE, UPDATE, DELETE
	EventCategory string `json:"eventCategory"` // INVOICE, BANKTRANSACTION, ...
	TenantID      string `json:"tenantId"`
}

// identity keys an event of the delivery with sequence window first-last for
// deduplication. Events with neither a date nor a sequence window cannot be told
// apart from a later change and get no identity.
func (e WebhookEvent) identity(first, last int64) string {
	if e.EventDateUTC == "" && first == 0 && last == 0 {
		return ""
	}
	return strings.Join([]string{
		strings.ToUpper(e.EventCategory), strings.ToUpper(e.EventType), e.ResourceID, e.EventDateUTC,
		strconv.FormatInt(first, 10), strconv.FormatInt(last, 10),
	}, "|")
}

func (e WebhookEvent) isDelete() bool {
	return strings.EqualFold(e.EventType, "DELETE")
}

// WebhookAck is the immediate response to a delivery
type WebhookAck string

const (
	AckEmpty    WebhookAck = "acknowledged-empty"
	AckAccepted WebhookAck = "accepted"
)

const webhookDedupWindow = 10 * time.Minute

var eventCategories = map[string]models.EntityKind{
	"ACCOUNT":         models.KindAccount,
	"BANKACCOUNT":     models.KindBankAccount,
	"BANKTRANSACTION": models.KindBankTransaction,
	"INVOICE":         models.KindInvoice,
}

func categoryKind(category string) (models.EntityKind, bool) {
	if kind, ok := eventCategories[strings.ToUpper(category)]; ok {
		return kind, true
	}
	kind := models.EntityKind(strings.ToLower(category))
	return kind, kind.Valid()
}

const webhookSchema = `{
  "type": "object",
  "required": ["events"],
  "properties": {
    "events": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["resourceId", "eventCategory", "eventType"],
        "properties": {
          "resourceUrl":   {"type": "string"},
          "resourceId":    {"type": "string", "minLength": 1},
          "eventDateUtc":  {"type": "string"},
          "eventType":     {"type": "string", "minLength": 1},
          "eventCategory": {"type": "string", "minLength": 1},
          "tenantId":      {"type": "string"}
        }
      }
    },
    "firstEventSequence": {"type": "integer"},
    "lastEventSequence":  {"type": "integer"}
  }
}`

func compileWebhookSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(webhookSchema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("webhook.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("webhook.json")
}

// WebhookProcessor verifies push notifications and refreshes the entities they name
type WebhookProcessor struct {
	key        []byte
	tenantID   string
	client     LedgerClient
	reconciler *Reconciler
	store      RecordStore
	schema     *jsonschema.Schema
	seen       *expirable.LRU[string, struct{}]
	group      singleflight.Group

	ctx context.Context // processing lifetime, independent of any request
	wg  sync.WaitGroup
}

func NewWebhookProcessor(ctx context.Context, key, tenantID string, client LedgerClient, reconciler *Reconciler, store RecordStore) (*WebhookProcessor, error) {
	schema, err := compileWebhookSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile webhook schema: %w", err)
	}
	return &WebhookProcessor{
		key:        []byte(key),
		tenantID:   tenantID,
		client:     client,
		reconciler: reconciler,
		store:      store,
		schema:     schema,
		seen:       expirable.NewLRU[string, struct{}](4096, nil, webhookDedupWindow),
		ctx:        ctx,
	}, nil
}

// Handle verifies and parses one delivery and schedules its events. It returns as soon
// as the events are scheduled; processing happens in the background.
func (p *WebhookProcessor) Handle(raw []byte, signature string) (WebhookAck, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return AckEmpty, nil
	}

	if !p.verify(raw, signature) {
		return "", ErrUnauthorized
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := p.schema.Validate(inst); err != nil {
		zap.S().Warnf("Warning: rejected webhook body: %v", err)
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var payload WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(payload.Events) == 0 {
		return AckEmpty, nil
	}

	events := p.collapse(payload.Events, payload.FirstEventSequence, payload.LastEventSequence)
	if len(events) == 0 {
		return AckAccepted, nil
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.processBatch(events, payload.FirstEventSequence, payload.LastEventSequence)
	}()

	return AckAccepted, nil
}

// Wait blocks until every scheduled batch has finished
func (p *WebhookProcessor) Wait() {
	p.wg.Wait()
}

func (p *WebhookProcessor) verify(raw []byte, signature string) bool {
	if len(p.key) == 0 || signature == "" {
		return false
	}
	provided, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, p.key)
	mac.Write(raw)
	return hmac.Equal(mac.Sum(nil), provided)
}

// collapse drops events already seen within the dedup window and keeps only the
// last event per resource, preserving delivery order of the survivors
func (p *WebhookProcessor) collapse(events []WebhookEvent, first, last int64) []WebhookEvent {
	lastIdx := make(map[string]int, len(events))
	for i, e := range events {
		lastIdx[strings.ToUpper(e.EventCategory)+"|"+e.ResourceID] = i
	}

	out := make([]WebhookEvent, 0, len(lastIdx))
	for i, e := range events {
		if lastIdx[strings.ToUpper(e.EventCategory)+"|"+e.ResourceID] != i {
			continue
		}
		if p.tenantID != "" && e.TenantID != "" && e.TenantID != p.tenantID {
			zap.S().Infof("Skipping webhook event for tenant %s", e.TenantID)
			continue
		}
		if id := e.identity(first, last); id != "" {
			if p.seen.Contains(id) {
				continue
			}
			p.seen.Add(id, struct{}{})
		}
		out = append(out, e)
	}
	return out
}

func (p *WebhookProcessor) processBatch(events []WebhookEvent, first, last int64) {
	applied := 0
	for _, e := range events {
		if err := p.safeProcess(e); err != nil {
			// forget the identity so a redelivery is retried
			if id := e.identity(first, last); id != "" {
				p.seen.Remove(id)
			}
			zap.S().Warnf("Warning: webhook event %s %s %s (sequence %d-%d) failed: %v",
				e.EventCategory, e.EventType, e.ResourceID, first, last, err)
			continue
		}
		applied++
	}
	zap.S().Infof("Applied %d/%d webhook event(s) from sequence %d-%d", applied, len(events), first, last)
}

func (p *WebhookProcessor) safeProcess(e WebhookEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.processEvent(p.ctx, e)
}

func (p *WebhookProcessor) processEvent(ctx context.Context, e WebhookEvent) error {
	kind, ok := categoryKind(e.EventCategory)
	if !ok {
		zap.S().Infof("Ignoring webhook event with unknown category %s", e.EventCategory)
		return nil
	}

	if e.isDelete() {
		_, err := p.store.MarkRemoved(ctx, kind, e.ResourceID)
		return err
	}

	v, err, _ := p.group.Do(string(kind)+"/"+e.ResourceID, func() (interface{}, error) {
		return p.client.Get(ctx, kind, e.ResourceID)
	})
	if errors.Is(err, ErrEntityNotFound) {
		_, err := p.store.MarkRemoved(ctx, kind, e.ResourceID)
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to refetch %s %s: %w", kind, e.ResourceID, err)
	}

	entity := *v.(*RemoteEntity)
	if entity.Kind == "" {
		entity.Kind = kind
	}
	_, err = p.reconciler.ReconcileOne(ctx, entity)
	return err
}
