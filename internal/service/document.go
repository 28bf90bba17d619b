package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"

	"connectrpc.com/connect"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/atlekbai/docql/internal/collection"
	"github.com/atlekbai/docql/internal/docql"
)

// exactCountThreshold is the planner estimate below which we run an exact count.
const exactCountThreshold = 50_000

// DocumentStore executes plans and document writes. *pg.Store implements it.
type DocumentStore interface {
	RunQuery(ctx context.Context, plan *docql.QueryPlan, params map[string]any) ([]map[string]any, error)
	Estimate(ctx context.Context, plan *docql.QueryPlan, params map[string]any) (int64, json.RawMessage, error)
	Count(ctx context.Context, plan *docql.QueryPlan, params map[string]any) (int64, error)
	SaveDocuments(ctx context.Context, collection string, docs []docql.PendingDocument) (*docql.SaveResult, error)
	GetDocument(ctx context.Context, ref docql.DocumentRef) (map[string]any, bool, error)
	DeleteDocument(ctx context.Context, ref docql.DocumentRef) error
	PurgeDocument(ctx context.Context, ref docql.DocumentRef) error
	CreateIndex(ctx context.Context, spec docql.IndexSpec) error
	DeleteIndex(ctx context.Context, collection, name string) error
}

// SQLRenderer renders a plan as SQL for Explain.
type SQLRenderer func(plan *docql.QueryPlan, params map[string]any) (string, []any, error)

type DocumentService struct {
	store    DocumentStore
	registry *collection.Registry
	render   SQLRenderer
}

func NewDocumentService(store DocumentStore, registry *collection.Registry, render SQLRenderer) *DocumentService {
	return &DocumentService{store: store, registry: registry, render: render}
}

type unaryFunc = func(context.Context, *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error)

func (s *DocumentService) RegisterHandler(interceptors ...connect.Interceptor) (string, http.Handler) {
	handlers := map[string]unaryFunc{
		"Query":           s.Query,
		"Explain":         s.Explain,
		"SaveDocuments":   s.SaveDocuments,
		"GetDocument":     s.GetDocument,
		"DeleteDocument":  s.DeleteDocument,
		"PurgeDocument":   s.PurgeDocument,
		"FilterDocuments": s.FilterDocuments,
		"CreateIndex":     s.CreateIndex,
		"DeleteIndex":     s.DeleteIndex,
		"ListCollections": s.ListCollections,
	}

	mux := http.NewServeMux()
	for _, r := range routes {
		md := DocumentServiceDescriptor.Methods().ByName(protoreflect.Name(r.method))
		mux.Handle(procedure(r.method), connect.NewUnaryHandler(
			procedure(r.method),
			handlers[r.method],
			connect.WithSchema(md),
			connect.WithInterceptors(interceptors...),
		))
	}
	return DocumentServicePath, mux
}

// --- Queries ---

// Query compiles and runs a select/from/join/where request. With
// {"count": true} the response also carries totalCount.
func (s *DocumentService) Query(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	in := req.Msg.AsMap()
	plan, params, err := s.plan(in)
	if err != nil {
		return nil, toConnectError(err)
	}
	withCount, _ := in["count"].(bool)

	g, gctx := errgroup.WithContext(ctx)

	var rows []map[string]any
	g.Go(func() error {
		var err error
		rows, err = s.store.RunQuery(gctx, plan, params)
		return err
	})

	var totalCount int64
	if withCount {
		g.Go(func() error {
			var err error
			totalCount, err = s.resolveCount(gctx, plan, params)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, toConnectError(fmt.Errorf("query failed: %w", err))
	}

	results := make([]any, len(rows))
	for i, row := range rows {
		results[i] = row
	}
	out := map[string]any{
		"results":  results,
		"warnings": warningList(plan.Warnings),
	}
	if withCount {
		out["totalCount"] = float64(totalCount)
	}
	return reply(out)
}

// Explain compiles a request without running it: the plan tree, the SQL it
// translates to and the planner's row estimate.
func (s *DocumentService) Explain(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	plan, params, err := s.plan(req.Msg.AsMap())
	if err != nil {
		return nil, toConnectError(err)
	}

	out := map[string]any{"plan": plan.Describe()}
	if s.render == nil {
		return reply(out)
	}

	sqlStr, args, err := s.render(plan, params)
	if err != nil {
		return nil, toConnectError(err)
	}
	out["sql"] = sqlStr
	out["args"] = anyList(args)

	estimated, planJSON, err := s.store.Estimate(ctx, plan, params)
	if err != nil {
		return nil, toConnectError(err)
	}
	out["estimatedRows"] = float64(estimated)
	var pgPlan any
	if err := json.Unmarshal(planJSON, &pgPlan); err == nil {
		out["postgresPlan"] = pgPlan
	}
	return reply(out)
}

func (s *DocumentService) plan(in map[string]any) (*docql.QueryPlan, map[string]any, error) {
	req, err := docql.DecodeRequest(in)
	if err != nil {
		return nil, nil, err
	}

	var params map[string]any
	if v, ok := in["params"]; ok && v != nil {
		if params, ok = v.(map[string]any); !ok {
			return nil, nil, fmt.Errorf("%w: params must be an object, got %T", docql.ErrInvalidParameter, v)
		}
	}

	plan, err := docql.Builder{Resolver: s.registry}.Build(req)
	if err != nil {
		return nil, nil, err
	}
	logWarnings("query", plan.Warnings)
	return plan, params, nil
}

// resolveCount uses the planner estimate on large results and an exact
// count only when the estimate is small.
func (s *DocumentService) resolveCount(ctx context.Context, plan *docql.QueryPlan, params map[string]any) (int64, error) {
	estimated, _, err := s.store.Estimate(ctx, plan, params)
	if err != nil {
		return 0, err
	}
	if estimated > exactCountThreshold {
		return estimated, nil
	}
	count, err := s.store.Count(ctx, plan, params)
	if err != nil {
		return estimated, nil
	}
	return count, nil
}

// --- Documents ---

func (s *DocumentService) SaveDocuments(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	name, docs, err := docql.PrepareDocuments(req.Msg.AsMap())
	if err != nil {
		return nil, toConnectError(err)
	}
	if name == "" {
		name = s.registry.Default()
	}
	if name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("no collection given and no default collection configured"))
	}

	result, err := s.store.SaveDocuments(ctx, name, docs)
	if err != nil {
		return nil, toConnectError(fmt.Errorf("save documents: %w", err))
	}
	s.registry.Add(name)

	errs := make([]any, len(result.Errors))
	for i, e := range result.Errors {
		errs[i] = map[string]any{
			"index":   float64(e.Index),
			"id":      e.ID,
			"message": e.Message,
		}
	}
	return reply(map[string]any{
		"collection":  name,
		"documentIDs": anyList(result.DocumentIDs),
		"errors":      errs,
	})
}

func (s *DocumentService) GetDocument(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	ref, err := s.documentRef(req.Msg.AsMap())
	if err != nil {
		return nil, err
	}

	doc, found, err := s.store.GetDocument(ctx, ref)
	if err != nil {
		return nil, toConnectError(err)
	}
	if !found {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("document %q not found in %q", ref.ID, ref.Collection))
	}
	return reply(map[string]any{"document": doc})
}

func (s *DocumentService) DeleteDocument(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	ref, err := s.documentRef(req.Msg.AsMap())
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteDocument(ctx, ref); err != nil {
		return nil, toConnectError(err)
	}
	return reply(map[string]any{"documentId": ref.ID})
}

func (s *DocumentService) PurgeDocument(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	ref, err := s.documentRef(req.Msg.AsMap())
	if err != nil {
		return nil, err
	}
	if err := s.store.PurgeDocument(ctx, ref); err != nil {
		return nil, toConnectError(err)
	}
	return reply(map[string]any{"documentId": ref.ID})
}

// documentRef reads a required document reference and resolves its
// collection. The returned error is already a connect error.
func (s *DocumentService) documentRef(in map[string]any) (docql.DocumentRef, error) {
	ref, _, err := docql.ParseDocumentRef(in, true)
	if err != nil {
		return docql.DocumentRef{}, toConnectError(err)
	}
	name, ok := s.registry.Resolve(ref.Collection)
	if !ok {
		return docql.DocumentRef{}, connect.NewError(connect.CodeNotFound, fmt.Errorf("unknown collection %q", ref.Collection))
	}
	ref.Collection = name
	return ref, nil
}

// FilterDocuments evaluates a match/not filter over a batch of candidate
// documents and returns the accepted ones in input order. Each entry is
// {"document": {...}, "deleted": bool, "accessRemoved": bool}.
func (s *DocumentService) FilterDocuments(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	in := req.Msg.AsMap()

	var specMap map[string]any
	if v, ok := in["filter"]; ok && v != nil {
		if specMap, ok = v.(map[string]any); !ok {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("filter must be an object, got %T", v))
		}
	}
	spec, err := docql.DecodeFilterSpec(specMap)
	if err != nil {
		return nil, toConnectError(err)
	}

	entries, ok := in["documents"].([]any)
	if !ok && in["documents"] != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("documents must be a list, got %T", in["documents"]))
	}

	filter := docql.CompileFilter(spec)
	logWarnings("filter", filter.Warnings())
	pred := filter.Predicate()

	accepted := make([]bool, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, entry := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, flags, err := candidate(i, entry)
			if err != nil {
				return err
			}
			accepted[i] = pred(doc, flags)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, toConnectError(err)
	}

	docs := make([]any, 0, len(entries))
	indexes := make([]any, 0, len(entries))
	for i, ok := range accepted {
		if !ok {
			continue
		}
		docs = append(docs, entries[i].(map[string]any)["document"])
		indexes = append(indexes, float64(i))
	}
	return reply(map[string]any{
		"name":     spec.Name(),
		"accepted": docs,
		"indexes":  indexes,
		"warnings": warningList(filter.Warnings()),
	})
}

func candidate(i int, entry any) (docql.Document, docql.DocumentFlags, error) {
	m, ok := entry.(map[string]any)
	if !ok {
		return nil, 0, fmt.Errorf("%w: documents[%d] must be an object, got %T", docql.ErrInvalidParameter, i, entry)
	}
	doc, ok := m["document"].(map[string]any)
	if !ok {
		return nil, 0, fmt.Errorf("%w: documents[%d].document must be an object", docql.ErrInvalidParameter, i)
	}
	var flags docql.DocumentFlags
	if deleted, _ := m["deleted"].(bool); deleted {
		flags |= docql.FlagDeleted
	}
	if removed, _ := m["accessRemoved"].(bool); removed {
		flags |= docql.FlagAccessRemoved
	}
	return doc, flags, nil
}

// --- Indexes ---

func (s *DocumentService) CreateIndex(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	spec, err := docql.ParseIndexRequest(req.Msg.AsMap())
	if err != nil {
		return nil, toConnectError(err)
	}
	name, ok := s.registry.Resolve(spec.Collection)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("unknown collection %q", spec.Collection))
	}
	spec.Collection = name

	if err := s.store.CreateIndex(ctx, spec); err != nil {
		return nil, toConnectError(err)
	}
	return reply(map[string]any{"collection": name, "indexName": spec.Name})
}

// DeleteIndex drops a named index. An empty name does nothing.
func (s *DocumentService) DeleteIndex(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	coll, name, ok, err := docql.ParseDeleteIndexRequest(req.Msg.AsMap())
	if err != nil {
		return nil, toConnectError(err)
	}
	if !ok {
		return reply(map[string]any{"deleted": false})
	}

	resolved, known := s.registry.Resolve(coll)
	if !known {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("unknown collection %q", coll))
	}
	if err := s.store.DeleteIndex(ctx, resolved, name); err != nil {
		return nil, toConnectError(err)
	}
	return reply(map[string]any{"deleted": true, "collection": resolved, "indexName": name})
}

func (s *DocumentService) ListCollections(_ context.Context, _ *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	return reply(map[string]any{
		"collections": anyList(s.registry.Names()),
		"default":     s.registry.Default(),
	})
}

// --- Helpers ---

func reply(m map[string]any) (*connect.Response[structpb.Struct], error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("marshal result: %w", err))
	}
	return connect.NewResponse(st), nil
}

func toConnectError(err error) error {
	switch {
	case errors.Is(err, docql.ErrInvalidParameter):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func warningList(ws []docql.Warning) []any {
	out := make([]any, len(ws))
	for i, w := range ws {
		out[i] = map[string]any{"input": w.Input, "message": w.Message}
	}
	return out
}

func logWarnings(kind string, ws []docql.Warning) {
	for _, w := range ws {
		log.Printf("%s warning: %s", kind, w)
	}
}

func anyList[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
