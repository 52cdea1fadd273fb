// Package client is a thin REST client for a running explainer server.
package client

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"iris-explainer/internal/common"
	"iris-explainer/internal/ml"
	"iris-explainer/internal/storage"
	"iris-explainer/internal/workflow"
)

type Client struct {
	base string
	rest *resty.Client
}

func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(common.DefaultClientTimeout)
	}
	r.SetHeader("Accept", "application/json")
	return &Client{base: base, rest: r}
}

// APIError is a non-2xx answer from the server. Label is set when the prediction
// succeeded but attribution failed.
type APIError struct {
	Status  int
	Message string `json:"error"`
	Label   string `json:"label"`
}

func (e *APIError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("explainer: %d %s (label %s)", e.Status, e.Message, e.Label)
	}
	return fmt.Sprintf("explainer: %d %s", e.Status, e.Message)
}

type ModelInfo struct {
	ml.ModelInfo
	OutputIndex int `json:"output_index"`
}

type Importance struct {
	Features map[string]*ml.FeatureStats `json:"features"`
	Top      []string                    `json:"top"`
}

type historyResp struct {
	Records []storage.PredictionRecord `json:"records"`
}

// Predict runs one prediction. includeHTML asks for the rendered force plot in the result.
func (c *Client) Predict(ctx context.Context, in ml.Input, includeHTML bool) (*workflow.Result, error) {
	res := &workflow.Result{}
	req := c.rest.R().
		SetContext(ctx).
		SetBody(in).
		SetResult(res)
	if includeHTML {
		req.SetQueryParam("include_html", "true")
	}
	if err := c.do(req, resty.MethodPost, "/api/predict"); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) Model(ctx context.Context) (*ModelInfo, error) {
	info := &ModelInfo{}
	if err := c.do(c.rest.R().SetContext(ctx).SetResult(info), resty.MethodGet, "/api/model"); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) Importance(ctx context.Context, top int) (*Importance, error) {
	imp := &Importance{}
	req := c.rest.R().SetContext(ctx).SetResult(imp)
	if top > 0 {
		req.SetQueryParam("top", strconv.Itoa(top))
	}
	if err := c.do(req, resty.MethodGet, "/api/importance"); err != nil {
		return nil, err
	}
	return imp, nil
}

func (c *Client) History(ctx context.Context, limit int) ([]storage.PredictionRecord, error) {
	out := &historyResp{}
	req := c.rest.R().SetContext(ctx).SetResult(out)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if err := c.do(req, resty.MethodGet, "/api/history"); err != nil {
		return nil, err
	}
	return out.Records, nil
}

func (c *Client) do(req *resty.Request, method, path string) error {
	apiErr := &APIError{}
	resp, err := req.SetError(apiErr).Execute(method, c.base+path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = resp.Status()
		}
		return apiErr
	}
	return nil
}
