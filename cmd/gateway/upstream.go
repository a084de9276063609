package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"admission-gateway/middleware/pipeline/domain"
)

// SubjectHeader leva o subject autenticado para o upstream.
const SubjectHeader = "X-Authenticated-Subject"

const maxUpstreamBody = 4 << 20

// upstream encaminha a requisição já admitida para o serviço de trás.
//
// O corpo enviado é o payload validado (só campos declarados); sem schema,
// o body original decodificado. A resposta JSON do upstream vira o data do
// envelope de sucesso.
type upstream struct {
	base   *url.URL
	client *http.Client
}

func newUpstream(rawURL string, client *http.Client) (*upstream, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &upstream{base: base, client: client}, nil
}

func (u *upstream) handler(rc RouteConfig) domain.HandlerFunc {
	return func(ctx context.Context, reqCtx *domain.RequestContext) (domain.Result, error) {
		req, err := u.newRequest(ctx, rc, reqCtx)
		if err != nil {
			return domain.Result{}, err
		}

		resp, err := u.client.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return domain.Result{}, &domain.Failure{Kind: domain.KindTimeout, Message: "upstream timed out", Cause: err}
			}
			return domain.Result{}, fmt.Errorf("upstream request failed: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
		if err != nil {
			return domain.Result{}, fmt.Errorf("reading upstream response: %w", err)
		}
		return upstreamResult(resp.StatusCode, raw)
	}
}

func (u *upstream) newRequest(ctx context.Context, rc RouteConfig, reqCtx *domain.RequestContext) (*http.Request, error) {
	path := reqCtx.Request.Path
	if rc.UpstreamPath != "" {
		path = expandParams(rc.UpstreamPath, reqCtx.Request.Params)
	}
	target := u.base.JoinPath(path)

	var body io.Reader
	switch reqCtx.Request.Method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		q := url.Values(reqCtx.Request.Query)
		if reqCtx.Route.Schema != nil {
			// só os campos de query validados
			q = url.Values{}
			for _, f := range reqCtx.Route.Schema.Fields {
				if v, ok := reqCtx.Payload[f.Name]; ok && f.In == domain.InQuery {
					q.Set(f.Name, fmt.Sprint(v))
				}
			}
		}
		target.RawQuery = q.Encode()
	default:
		var payload any = reqCtx.Request.Body
		if reqCtx.Route.Schema != nil {
			payload = reqCtx.Payload
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding upstream body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, reqCtx.Request.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", reqCtx.ID)
	if reqCtx.Principal != nil {
		req.Header.Set(SubjectHeader, reqCtx.Principal.Subject)
	}
	return req, nil
}

// expandParams troca {nome} pelo parâmetro da rota.
func expandParams(path string, params map[string]string) string {
	for k, v := range params {
		path = strings.ReplaceAll(path, "{"+k+"}", url.PathEscape(v))
	}
	return path
}

func upstreamResult(status int, raw []byte) (domain.Result, error) {
	switch {
	case status >= 200 && status < 300:
		return domain.Result{Data: decodeJSON(raw), Status: status}, nil
	case status == http.StatusNotFound:
		return domain.Result{}, domain.NotFound("resource not found")
	case status == http.StatusUnauthorized:
		return domain.Result{}, domain.Fail(domain.KindUnauthorized, "upstream rejected the credential")
	case status == http.StatusForbidden:
		return domain.Result{}, domain.Fail(domain.KindForbidden, "access denied")
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return domain.Result{}, &domain.Failure{
			Kind:       domain.KindValidationFailed,
			Message:    "request rejected by upstream",
			Violations: []domain.Violation{{Field: "body", Message: "rejected by upstream"}},
		}
	default:
		return domain.Result{}, fmt.Errorf("upstream returned status %d: %s", status, truncate(raw, 256))
	}
}

// decodeJSON devolve o JSON decodificado; corpo não-JSON vai como string.
func decodeJSON(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
