package orders

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/maleva/customer-portal/pkg/httpclient"
	"go.uber.org/zap"
)

const (
	selectSaleOrderPath    = "/api/CustomersLoginApp/SelectSaleOrder"
	customerDetailsPath    = "/api/CustomersLoginApp/GetCustomerDetails"
	msgFetchOrdersFailed   = "Failed to fetch orders"
	msgFetchCustomerFailed = "Failed to fetch customer details"
)

// CustomerRecord is the first Data1 entry of the customer-details reply.
type CustomerRecord map[string]interface{}

type lookupRequest struct {
	ID    interface{} `json:"Id"`
	ComID interface{} `json:"Comid"`
}

type Repository struct {
	client       httpclient.Doer
	companyRefID string
	logger       *zap.Logger
}

func NewRepository(client httpclient.Doer, companyRefID string, logger *zap.Logger) *Repository {
	return &Repository{
		client:       client,
		companyRefID: companyRefID,
		logger:       logger.Named("orders"),
	}
}

// FetchOrders returns the raw sale orders of a customer. A reply with
// IsSuccess false becomes a *httpclient.DomainError; transport errors pass
// through unchanged.
func (r *Repository) FetchOrders(ctx context.Context, customerID string) ([]RawOrder, error) {
	env, err := r.post(ctx, selectSaleOrderPath, lookupRequest{
		ID:    idValue(customerID),
		ComID: idValue(r.companyRefID),
	})
	if err != nil {
		return nil, err
	}
	if err := env.Err(msgFetchOrdersFailed); err != nil {
		return nil, err
	}

	records, err := env.Records()
	if err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}
	out := make([]RawOrder, len(records))
	for i, rec := range records {
		out[i] = RawOrder(rec)
	}
	r.logger.Debug("orders fetched", zap.String("customer_id", customerID), zap.Int("count", len(out)))
	return out, nil
}

// FetchCustomerDetails returns the customer's profile record. An empty
// companyID falls back to the company reference id.
func (r *Repository) FetchCustomerDetails(ctx context.Context, customerID, companyID string) (CustomerRecord, error) {
	if strings.TrimSpace(companyID) == "" {
		companyID = r.companyRefID
	}
	env, err := r.post(ctx, customerDetailsPath, lookupRequest{
		ID:    idValue(customerID),
		ComID: idValue(companyID),
	})
	if err != nil {
		return nil, err
	}
	if err := env.Err(msgFetchCustomerFailed); err != nil {
		return nil, err
	}

	records, err := env.Records()
	if err != nil {
		return nil, fmt.Errorf("fetch customer details: %w", err)
	}
	if len(records) == 0 {
		return CustomerRecord{}, nil
	}
	return CustomerRecord(records[0]), nil
}

func (r *Repository) post(ctx context.Context, path string, body interface{}) (*httpclient.Envelope, error) {
	resp, err := r.client.Do(ctx, &httpclient.Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	return httpclient.DecodeEnvelope(resp)
}

// idValue sends integer-looking ids as JSON numbers, which the backend
// expects, and anything else as a string.
func idValue(id string) interface{} {
	if n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64); err == nil {
		return n
	}
	return id
}
