package ledger

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vipul43/ledgersync/internal/models"
	"github.com/vipul43/ledgersync/internal/service"
)

// endpoint describes where a kind lives in the remote API
type endpoint struct {
	collection string // path segment and response envelope key
	where      string // fixed filter, combined with scope filters
}

var endpoints = map[models.EntityKind]endpoint{
	models.KindAccount:         {collection: "Accounts"},
	models.KindBankAccount:     {collection: "Accounts", where: `Type=="BANK"`},
	models.KindBankTransaction: {collection: "BankTransactions"},
	models.KindInvoice:         {collection: "Invoices"},
}

// datedKinds accept an entity date filter
var datedKinds = map[models.EntityKind]bool{
	models.KindBankTransaction: true,
	models.KindInvoice:         true,
}

type wireContact struct {
	ContactID string `json:"ContactID"`
	Name      string `json:"Name"`
}

type wireLineItem struct {
	LineItemID  string          `json:"LineItemID"`
	Description string          `json:"Description"`
	Quantity    decimal.Decimal `json:"Quantity"`
	UnitAmount  decimal.Decimal `json:"UnitAmount"`
	LineAmount  decimal.Decimal `json:"LineAmount"`
	TaxAmount   decimal.Decimal `json:"TaxAmount"`
	AccountCode string          `json:"AccountCode"`
	TaxType     string          `json:"TaxType"`
}

type wireAccount struct {
	AccountID         string `json:"AccountID"`
	Code              string `json:"Code"`
	Name              string `json:"Name"`
	Type              string `json:"Type"`
	Class             string `json:"Class"`
	Status            string `json:"Status"`
	TaxType           string `json:"TaxType"`
	CurrencyCode      string `json:"CurrencyCode"`
	BankAccountNumber string `json:"BankAccountNumber"`
	BankAccountType   string `json:"BankAccountType"`
	UpdatedDateUTC    string `json:"UpdatedDateUTC"`
}

type wireBankAccountRef struct {
	AccountID string `json:"AccountID"`
	Code      string `json:"Code"`
	Name      string `json:"Name"`
}

type wireBankTransaction struct {
	BankTransactionID string             `json:"BankTransactionID"`
	Type              string             `json:"Type"`
	Status            string             `json:"Status"`
	Reference         string             `json:"Reference"`
	IsReconciled      bool               `json:"IsReconciled"`
	Date              string             `json:"Date"`
	UpdatedDateUTC    string             `json:"UpdatedDateUTC"`
	CurrencyCode      string             `json:"CurrencyCode"`
	SubTotal          decimal.Decimal    `json:"SubTotal"`
	TotalTax          decimal.Decimal    `json:"TotalTax"`
	Total             decimal.Decimal    `json:"Total"`
	BankAccount       wireBankAccountRef `json:"BankAccount"`
	Contact           wireContact        `json:"Contact"`
	LineItems         []wireLineItem     `json:"LineItems"`
}

type wireInvoice struct {
	InvoiceID      string          `json:"InvoiceID"`
	InvoiceNumber  string          `json:"InvoiceNumber"`
	Type           string          `json:"Type"` // ACCREC sales invoice, ACCPAY bill
	Status         string          `json:"Status"`
	Reference      string          `json:"Reference"`
	Date           string          `json:"Date"`
	DueDate        string          `json:"DueDate"`
	UpdatedDateUTC string          `json:"UpdatedDateUTC"`
	CurrencyCode   string          `json:"CurrencyCode"`
	SubTotal       decimal.Decimal `json:"SubTotal"`
	TotalTax       decimal.Decimal `json:"TotalTax"`
	Total          decimal.Decimal `json:"Total"`
	AmountDue      decimal.Decimal `json:"AmountDue"`
	AmountPaid     decimal.Decimal `json:"AmountPaid"`
	AmountCredited decimal.Decimal `json:"AmountCredited"`
	Contact        wireContact     `json:"Contact"`
	LineItems      []wireLineItem  `json:"LineItems"`
}

// decodeCollection decodes a response envelope {"<Collection>": [...]} into remote entities
func decodeCollection(kind models.EntityKind, body []byte) ([]service.RemoteEntity, error) {
	ep, ok := endpoints[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", service.ErrUnknownEntityKind, kind)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	raw, ok := envelope[ep.collection]
	if !ok || string(raw) == "null" {
		return nil, nil
	}

	switch kind {
	case models.KindAccount, models.KindBankAccount:
		var items []wireAccount
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", ep.collection, err)
		}
		entities := make([]service.RemoteEntity, 0, len(items))
		for _, item := range items {
			entities = append(entities, item.toEntity(kind))
		}
		return entities, nil

	case models.KindBankTransaction:
		var items []wireBankTransaction
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", ep.collection, err)
		}
		entities := make([]service.RemoteEntity, 0, len(items))
		for _, item := range items {
			entities = append(entities, item.toEntity())
		}
		return entities, nil

	case models.KindInvoice:
		var items []wireInvoice
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", ep.collection, err)
		}
		entities := make([]service.RemoteEntity, 0, len(items))
		for _, item := range items {
			entities = append(entities, item.toEntity())
		}
		return entities, nil
	}

	return nil, fmt.Errorf("%w: %s", service.ErrUnknownEntityKind, kind)
}

func (a wireAccount) toEntity(kind models.EntityKind) service.RemoteEntity {
	payload := map[string]interface{}{
		"code":         a.Code,
		"name":         a.Name,
		"type":         a.Type,
		"class":        a.Class,
		"taxType":      a.TaxType,
		"currencyCode": a.CurrencyCode,
	}
	if kind == models.KindBankAccount {
		payload["bankAccountNumber"] = a.BankAccountNumber
		payload["bankAccountType"] = a.BankAccountType
	}
	return service.RemoteEntity{
		Kind:         kind,
		RemoteID:     a.AccountID,
		Status:       a.Status,
		LastModified: parseTimePtr(a.UpdatedDateUTC),
		Payload:      payload,
	}
}

func (t wireBankTransaction) toEntity() service.RemoteEntity {
	entity := service.RemoteEntity{
		Kind:         models.KindBankTransaction,
		RemoteID:     t.BankTransactionID,
		Status:       t.Status,
		LastModified: parseTimePtr(t.UpdatedDateUTC),
		EntityDate:   parseTimePtr(t.Date),
		Payload: map[string]interface{}{
			"type":         t.Type,
			"reference":    t.Reference,
			"isReconciled": t.IsReconciled,
			"currencyCode": t.CurrencyCode,
			"subTotal":     t.SubTotal.String(),
			"totalTax":     t.TotalTax.String(),
			"total":        t.Total.String(),
			"contactId":    t.Contact.ContactID,
			"contactName":  t.Contact.Name,
			"lineItems":    lineItemsPayload(t.LineItems),
		},
	}
	if t.BankAccount.AccountID != "" {
		parent := t.BankAccount.AccountID
		entity.ParentRemoteID = &parent
	}
	return entity
}

func (i wireInvoice) toEntity() service.RemoteEntity {
	return service.RemoteEntity{
		Kind:         models.KindInvoice,
		RemoteID:     i.InvoiceID,
		Status:       i.Status,
		LastModified: parseTimePtr(i.UpdatedDateUTC),
		EntityDate:   parseTimePtr(i.Date),
		Payload: map[string]interface{}{
			"invoiceNumber":  i.InvoiceNumber,
			"type":           i.Type,
			"reference":      i.Reference,
			"dueDate":        formatDate(parseTimePtr(i.DueDate)),
			"currencyCode":   i.CurrencyCode,
			"subTotal":       i.SubTotal.String(),
			"totalTax":       i.TotalTax.String(),
			"total":          i.Total.String(),
			"amountDue":      i.AmountDue.String(),
			"amountPaid":     i.AmountPaid.String(),
			"amountCredited": i.AmountCredited.String(),
			"contactId":      i.Contact.ContactID,
			"contactName":    i.Contact.Name,
			"lineItems":      lineItemsPayload(i.LineItems),
		},
	}
}

func lineItemsPayload(items []wireLineItem) []interface{} {
	out := make([]interface{}, 0, len(items))
	for _, li := range items {
		out = append(out, map[string]interface{}{
			"lineItemId":  li.LineItemID,
			"description": li.Description,
			"quantity":    li.Quantity.String(),
			"unitAmount":  li.UnitAmount.String(),
			"lineAmount":  li.LineAmount.String(),
			"taxAmount":   li.TaxAmount.String(),
			"accountCode": li.AccountCode,
			"taxType":     li.TaxType,
		})
	}
	return out
}

var msDatePattern = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// parseTime parses the date formats the remote API emits
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	// /Date(1573755038314+0000)/
	if m := msDatePattern.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
		}
		return time.UnixMilli(ms).UTC(), nil
	}

	formats := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil
	}
	return &t
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// whereClause builds the filter expression for a listing
func whereClause(kind models.EntityKind, since *time.Time) string {
	parts := make([]string, 0, 2)
	if ep := endpoints[kind]; ep.where != "" {
		parts = append(parts, ep.where)
	}
	if since != nil && datedKinds[kind] {
		s := since.UTC()
		parts = append(parts, fmt.Sprintf("Date>=DateTime(%d,%02d,%02d)", s.Year(), int(s.Month()), s.Day()))
	}
	return strings.Join(parts, " AND ")
}
