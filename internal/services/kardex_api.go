package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"kardex_assistant/internal/storage"
	"kardex_assistant/pkg"
)

// ErrNotFound is returned when the backend answers 404 or no record matches
var ErrNotFound = errors.New("not found")

// KardexAPI is a client for the Kardex REST backend
type KardexAPI struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewKardexAPI creates a client. baseURL is the API root, e.g. http://host:3000/api
func NewKardexAPI(baseURL, token string, timeout time.Duration) *KardexAPI {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &KardexAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// envelope is the {success, data, message} wrapper the backend uses
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (a *KardexAPI) get(ctx context.Context, path string, query url.Values, dest any) error {
	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("GET %s: %w", path, ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}

	return decodeBody(body, dest)
}

// decodeBody accepts both an enveloped payload and a bare one
func decodeBody(body []byte, dest any) error {
	var env envelope
	if err := sonic.Unmarshal(body, &env); err == nil && len(env.Data) > 0 {
		if env.Success != nil && !*env.Success {
			return fmt.Errorf("backend error: %s", env.Message)
		}
		if string(env.Data) == "null" {
			return ErrNotFound
		}
		if err := sonic.Unmarshal(env.Data, dest); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
		return nil
	}
	if err := sonic.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// Products lists the catalog
func (a *KardexAPI) Products(ctx context.Context, f pkg.CatalogFilters) ([]pkg.Product, error) {
	q := url.Values{}
	q.Set("activo", strconv.FormatBool(f.ActiveOnly))
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.CategoryID > 0 {
		q.Set("categoria_id", strconv.FormatInt(f.CategoryID, 10))
	}
	var out []pkg.Product
	if err := a.get(ctx, "/productos", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SearchProducts searches the catalog by free text
func (a *KardexAPI) SearchProducts(ctx context.Context, term string) ([]pkg.Product, error) {
	var out []pkg.Product
	if err := a.get(ctx, "/productos/buscar", url.Values{"q": {term}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CustomerByPhone searches clients and keeps the one whose phone matches
func (a *KardexAPI) CustomerByPhone(ctx context.Context, phone string) (*pkg.Customer, error) {
	var candidates []pkg.Customer
	q := url.Values{"search": {storage.NormalizePhone(phone)}, "limit": {"10"}}
	if err := a.get(ctx, "/clientes", q, &candidates); err != nil {
		return nil, err
	}
	for i := range candidates {
		if storage.PhoneMatches(candidates[i].Phone, phone) {
			return &candidates[i], nil
		}
	}
	return nil, fmt.Errorf("customer %s: %w", phone, ErrNotFound)
}

// OrderByID fetches an order in progress
func (a *KardexAPI) OrderByID(ctx context.Context, id int64) (*pkg.Order, error) {
	var out pkg.Order
	if err := a.get(ctx, "/pedidos/"+strconv.FormatInt(id, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
