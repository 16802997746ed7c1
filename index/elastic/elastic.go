// Package elastic implements index.Gateway on the Elasticsearch document API.
//
// Versioned writes use version_type=external, so the caller's version wins
// only when it is higher than the stored one. Unversioned updates are partial
// (_update with detect_noop); unversioned adds overwrite the whole document.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/unkn0wn-root/listingsync/ident"
	"github.com/unkn0wn-root/listingsync/index"
)

var ErrNilTransport = errors.New("elastic: nil transport")

// ResponseError is a non-2xx answer that is neither a conflict nor a miss.
type ResponseError struct {
	Status int
	Type   string
	Reason string
}

func (e *ResponseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elastic: status %d", e.Status)
	}
	return fmt.Sprintf("elastic: status %d: %s: %s", e.Status, e.Type, e.Reason)
}

type Options struct {
	// Refresh is passed through on writes: "", "true", "false" or "wait_for".
	Refresh string
}

type Gateway[T any, K ident.ID] struct {
	es       esapi.Transport
	names    index.Names
	identify func(*T) K
	refresh  string
}

var _ index.Gateway[struct{}, ident.String] = (*Gateway[struct{}, ident.String])(nil)

// New wraps an Elasticsearch client (anything with Perform, usually *elasticsearch.Client).
func New[T any, K ident.ID](es esapi.Transport, names index.Names, identify func(*T) K, opts Options) (*Gateway[T, K], error) {
	if es == nil {
		return nil, ErrNilTransport
	}
	return &Gateway[T, K]{es: es, names: names, identify: identify, refresh: opts.Refresh}, nil
}

type getResponse[T any] struct {
	Found   bool  `json:"found"`
	Version int64 `json:"_version"`
	Source  *T    `json:"_source"`
}

func (g *Gateway[T, K]) GetVersioned(ctx context.Context, indexKey string, id K) (*index.Versioned[T], error) {
	name, err := g.names.Resolve(indexKey)
	if err != nil {
		return nil, err
	}

	res, err := esapi.GetRequest{Index: name, DocumentID: id.String()}.Do(ctx, g.es)
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", name, id, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("get %s/%s: %w", name, id, responseError(res))
	}

	var out getResponse[T]
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("get %s/%s: decode: %w", name, id, err)
	}
	if !out.Found || out.Source == nil {
		return nil, nil
	}
	return &index.Versioned[T]{Source: out.Source, Version: out.Version}, nil
}

func (g *Gateway[T, K]) ReadByID(ctx context.Context, indexKey string, id K) (*T, error) {
	v, err := g.GetVersioned(ctx, indexKey, id)
	if err != nil || v == nil {
		return nil, err
	}
	return v.Source, nil
}

func (g *Gateway[T, K]) ReadByEntity(ctx context.Context, indexKey string, v *T) (*T, error) {
	return g.ReadByID(ctx, indexKey, g.identify(v))
}

func (g *Gateway[T, K]) Add(ctx context.Context, indexKey string, v *T, version *int64) error {
	name, err := g.names.Resolve(indexKey)
	if err != nil {
		return err
	}
	return g.put(ctx, name, v, version)
}

func (g *Gateway[T, K]) Update(ctx context.Context, indexKey string, v *T, version *int64) error {
	name, err := g.names.Resolve(indexKey)
	if err != nil {
		return err
	}
	if version != nil {
		return g.put(ctx, name, v, version)
	}

	id := g.identify(v).String()
	body, err := json.Marshal(map[string]any{"doc": v, "detect_noop": true})
	if err != nil {
		return err
	}
	res, err := esapi.UpdateRequest{
		Index:      name,
		DocumentID: id,
		Body:       bytes.NewReader(body),
		Refresh:    g.refresh,
	}.Do(ctx, g.es)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", name, id, err)
	}
	defer res.Body.Close()
	return g.writeResult("update", name, id, 0, res)
}

func (g *Gateway[T, K]) put(ctx context.Context, name string, v *T, version *int64) error {
	id := g.identify(v).String()
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      name,
		DocumentID: id,
		Body:       bytes.NewReader(body),
		Refresh:    g.refresh,
	}
	var ver int64
	if version != nil {
		ver = *version
		n := int(ver)
		req.Version = &n
		req.VersionType = "external"
	}

	res, err := req.Do(ctx, g.es)
	if err != nil {
		return fmt.Errorf("index %s/%s: %w", name, id, err)
	}
	defer res.Body.Close()
	return g.writeResult("index", name, id, ver, res)
}

func (g *Gateway[T, K]) Delete(ctx context.Context, indexKey string, v *T, version *int64) error {
	name, err := g.names.Resolve(indexKey)
	if err != nil {
		return err
	}
	id := g.identify(v).String()

	req := esapi.DeleteRequest{Index: name, DocumentID: id, Refresh: g.refresh}
	var ver int64
	if version != nil {
		ver = *version
		n := int(ver)
		req.Version = &n
		req.VersionType = "external"
	}

	res, err := req.Do(ctx, g.es)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", name, id, err)
	}
	defer res.Body.Close()
	return g.writeResult("delete", name, id, ver, res)
}

type searchResponse[T any] struct {
	Hits struct {
		Hits []struct {
			Source *T `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (g *Gateway[T, K]) Search(ctx context.Context, indexKey string, build index.QueryBuilder[T]) ([]*T, error) {
	name, err := g.names.Resolve(indexKey)
	if err != nil {
		return nil, err
	}
	q := build(name)

	body := make(map[string]any, len(q.Body)+2)
	for k, v := range q.Body {
		body[k] = v
	}
	if _, ok := body["query"]; !ok {
		body["query"] = map[string]any{"match_all": map[string]any{}}
	}
	if q.From > 0 {
		body["from"] = q.From
	}
	if q.Size > 0 {
		body["size"] = q.Size
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	res, err := esapi.SearchRequest{Index: []string{name}, Body: bytes.NewReader(raw)}.Do(ctx, g.es)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("search %s: %w", name, responseError(res))
	}

	var out searchResponse[T]
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("search %s: decode: %w", name, err)
	}
	docs := make([]*T, 0, len(out.Hits.Hits))
	for _, h := range out.Hits.Hits {
		if h.Source != nil {
			docs = append(docs, h.Source)
		}
	}
	return docs, nil
}

func (g *Gateway[T, K]) writeResult(op, name, id string, version int64, res *esapi.Response) error {
	switch {
	case !res.IsError():
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	case res.StatusCode == http.StatusConflict:
		return &index.ConflictError{Index: name, ID: id, Version: version}
	case res.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s/%s: %w", op, name, id, index.ErrNotFound)
	default:
		return fmt.Errorf("%s %s/%s: %w", op, name, id, responseError(res))
	}
}

func responseError(res *esapi.Response) error {
	var body struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	_ = json.NewDecoder(res.Body).Decode(&body)
	return &ResponseError{Status: res.StatusCode, Type: body.Error.Type, Reason: body.Error.Reason}
}
