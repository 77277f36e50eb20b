package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/fault"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultClassName is the Weaviate class plan records are stored in.
const DefaultClassName = "TaskPlan"

// WeaviateMemory implements Memory on a Weaviate instance.
// Search is BM25 over the rendered content, restricted to the principal.
type WeaviateMemory struct {
	client    *weaviate.Client
	className string
	logger    *slog.Logger
}

// NewWeaviateClient creates a client for a URL such as http://localhost:8080.
func NewWeaviateClient(rawURL string) (*weaviate.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse weaviate url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("weaviate url %q has no host", rawURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return client, nil
}

// NewWeaviateMemory wraps client. An empty className uses DefaultClassName.
func NewWeaviateMemory(client *weaviate.Client, className string, logger *slog.Logger) (*WeaviateMemory, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if className == "" {
		className = DefaultClassName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeaviateMemory{
		client:    client,
		className: className,
		logger:    logger.With("component", "mirror.weaviate"),
	}, nil
}

// Schema returns the class definition for plan records.
func (m *WeaviateMemory) Schema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       m.className,
		Description: "A rendered task plan of one orchestration session.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "Rendered plan: titles, status glyphs and progress.",
				Tokenization: "word",
			},
			{
				Name:            "sessionId",
				DataType:        []string{"text"},
				Description:     "Session the plan belongs to.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "principalId",
				DataType:        []string{"text"},
				Description:     "Owner of the plan.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "contentType",
				DataType:        []string{"text"},
				Description:     "Record kind, task_plan for plans.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "tags",
				DataType:        []string{"text[]"},
				Description:     "Distinct task tags of the plan.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "updatedAt",
				DataType:    []string{"date"},
				Description: "When the record was last written.",
			},
		},
	}
}

// EnsureSchema creates the class if it does not exist.
func (m *WeaviateMemory) EnsureSchema(ctx context.Context) error {
	if _, err := m.client.Schema().ClassGetter().WithClassName(m.className).Do(ctx); err == nil {
		m.logger.Debug("schema already exists", "class", m.className)
		return nil
	}

	m.logger.Info("creating schema", "class", m.className)
	if err := m.client.Schema().ClassCreator().WithClass(m.Schema()).Do(ctx); err != nil {
		return fmt.Errorf("creating %s schema: %w", m.className, err)
	}
	return nil
}

// Search runs a BM25 query filtered to principalID. An empty query lists the
// principal's records.
func (m *WeaviateMemory) Search(ctx context.Context, principalID, query string, limit int) ([]Record, error) {
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "sessionId"},
		{Name: "principalId"},
		{Name: "contentType"},
		{Name: "tags"},
		{Name: "updatedAt"},
		{Name: "_additional { id }"},
	}

	where := filters.Where().
		WithPath([]string{"principalId"}).
		WithOperator(filters.Equal).
		WithValueString(principalID)

	getBuilder := m.client.GraphQL().Get().
		WithClassName(m.className).
		WithFields(fields...).
		WithWhere(where)
	if query != "" {
		getBuilder = getBuilder.WithBM25(m.client.GraphQL().Bm25ArgBuilder().WithQuery(query))
	}
	if limit > 0 {
		getBuilder = getBuilder.WithLimit(limit)
	}

	result, err := getBuilder.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search error: %s", result.Errors[0].Message)
	}

	return m.parseResults(result), nil
}

func (m *WeaviateMemory) parseResults(result *models.GraphQLResponse) []Record {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []Record{}
	}
	objects, ok := data[m.className].([]interface{})
	if !ok {
		return []Record{}
	}

	records := make([]Record, 0, len(objects))
	for _, obj := range objects {
		props, ok := obj.(map[string]interface{})
		if !ok {
			continue // skip malformed objects
		}
		rec := Record{
			Content: getString(props, "content"),
			Metadata: Metadata{
				SessionID:   getString(props, "sessionId"),
				PrincipalID: getString(props, "principalId"),
				ContentType: getString(props, "contentType"),
				Tags:        getStrings(props, "tags"),
			},
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			rec.ID = getString(additional, "id")
		}
		if raw := getString(props, "updatedAt"); raw != "" {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				rec.Metadata.UpdatedAt = t
			}
		}
		records = append(records, rec)
	}
	return records
}

// CreateRecord inserts a new object and returns its UUID.
func (m *WeaviateMemory) CreateRecord(ctx context.Context, principalID, content string, metadata Metadata) (string, error) {
	metadata.PrincipalID = principalID

	result, err := m.client.Data().Creator().
		WithClassName(m.className).
		WithProperties(properties(content, metadata)).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}
	if result == nil || result.Object == nil {
		return "", errors.New("weaviate created a record but returned a nil result")
	}
	return result.Object.ID.String(), nil
}

// UpdateRecord merges new content and metadata into an existing object.
func (m *WeaviateMemory) UpdateRecord(ctx context.Context, recordID, content string, metadata Metadata) error {
	err := m.client.Data().Updater().
		WithClassName(m.className).
		WithID(recordID).
		WithProperties(properties(content, metadata)).
		WithMerge().
		Do(ctx)
	if err != nil {
		var clientErr *fault.WeaviateClientError
		if errors.As(err, &clientErr) && clientErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("update record %s: %w", recordID, ErrRecordNotFound)
		}
		return fmt.Errorf("update record %s: %w", recordID, err)
	}
	return nil
}

func properties(content string, md Metadata) map[string]interface{} {
	props := map[string]interface{}{
		"content":     content,
		"sessionId":   md.SessionID,
		"contentType": md.ContentType,
		"updatedAt":   md.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if md.PrincipalID != "" {
		props["principalId"] = md.PrincipalID
	}
	if md.Tags != nil {
		props["tags"] = md.Tags
	}
	return props
}

// getString safely extracts a string from a map.
func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getStrings(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
