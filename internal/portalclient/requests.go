package portalclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/example/neighborhood-portal/internal/application"
	"github.com/example/neighborhood-portal/internal/approval"
)

func (c *Client) Categories(ctx context.Context) ([]application.Category, error) {
	var out wireCategories
	if err := c.do(ctx, call{op: "categories", method: http.MethodGet, path: "/categories", auth: true, expect: http.StatusOK, out: &out}); err != nil {
		return nil, err
	}
	categories := make([]application.Category, 0, len(out.Categories))
	for _, w := range out.Categories {
		categories = append(categories, application.Category{ID: w.ID, Name: w.Name, Description: w.Description, Active: true})
	}
	return categories, nil
}

// Submit files a new Surat Pengantar. Mutating calls are never retried.
func (c *Client) Submit(ctx context.Context, categoryID, reason string) (approval.Request, error) {
	body := struct {
		CategoryID string `json:"categoryId"`
		Reason     string `json:"reason"`
	}{categoryID, reason}
	return c.requestCall(ctx, "submit", http.MethodPost, "/surat-pengantar", body, http.StatusCreated)
}

func (c *Client) Get(ctx context.Context, requestID string) (approval.Request, error) {
	return c.requestCall(ctx, "get_request", http.MethodGet, "/surat-pengantar/"+url.PathEscape(requestID), nil, http.StatusOK)
}

// Decide records an RT or RW verdict on a request.
func (c *Client) Decide(ctx context.Context, requestID string, tier approval.Tier, action approval.Action, notes string) (approval.Request, error) {
	suffix := "/rt-approval"
	if tier == approval.TierRW {
		suffix = "/rw-approval"
	}
	body := struct {
		Action string `json:"action"`
		Notes  string `json:"notes,omitempty"`
	}{action.WireCode(), notes}
	return c.requestCall(ctx, "decide", http.MethodPost, "/surat-pengantar/"+url.PathEscape(requestID)+suffix, body, http.StatusOK)
}

func (c *Client) requestCall(ctx context.Context, op, method, path string, body any, expect int) (approval.Request, error) {
	var out wireRequest
	if err := c.do(ctx, call{op: op, method: method, path: path, body: body, auth: true, expect: expect, out: &out}); err != nil {
		return approval.Request{}, err
	}
	request, err := out.toRequest()
	if err != nil {
		return approval.Request{}, shapeError(op, err)
	}
	return request, nil
}

func (c *Client) PendingRT(ctx context.Context, query application.ListQuery) (application.RequestPage, error) {
	return c.list(ctx, "pending_rt", "/surat-pengantar/rt/pending", query)
}

func (c *Client) PendingRW(ctx context.Context, query application.ListQuery) (application.RequestPage, error) {
	return c.list(ctx, "pending_rw", "/surat-pengantar/rw/pending", query)
}

func (c *Client) MyRequests(ctx context.Context, query application.ListQuery) (application.RequestPage, error) {
	return c.list(ctx, "my_requests", "/surat-pengantar/my-requests", query)
}

func (c *Client) list(ctx context.Context, op, path string, query application.ListQuery) (application.RequestPage, error) {
	values := url.Values{}
	if query.Page > 0 {
		values.Set("page", strconv.Itoa(query.Page))
	}
	if query.Limit > 0 {
		values.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Status != "" {
		values.Set("status", string(query.Status))
	}
	if query.SortOrder != "" {
		values.Set("sortOrder", string(query.SortOrder))
	}

	var out wirePage
	if err := c.do(ctx, call{op: op, method: http.MethodGet, path: path, query: values, auth: true, expect: http.StatusOK, out: &out}); err != nil {
		return application.RequestPage{}, err
	}
	page, err := out.toPage()
	if err != nil {
		return application.RequestPage{}, shapeError(op, err)
	}
	return page, nil
}
