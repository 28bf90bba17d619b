package docql

import "maps"

// PendingDocument is one document of a save batch. ID is empty when the
// store should assign one.
type PendingDocument struct {
	ID   string
	Body Document
}

// DocumentError reports a document of a batch that could not be saved.
// Index is the document's position in the request.
type DocumentError struct {
	Index   int
	ID      string
	Message string
}

// SaveResult collects the outcome of a batch. A failing document never
// fails the batch; it is reported in Errors instead.
type SaveResult struct {
	DocumentIDs []string
	Errors      []DocumentError
}

// PrepareDocuments reads {"documents": [...]} or {"document": {...}} plus an
// optional "collection". Each document's "id" is moved out of its body.
func PrepareDocuments(m map[string]any) (collection string, docs []PendingDocument, err error) {
	if collection, err = optString(m, "collection"); err != nil {
		return "", nil, err
	}

	var raw []any
	switch {
	case m["documents"] != nil:
		list, ok := asArray(m["documents"])
		if !ok {
			return "", nil, invalidParam("documents must be a list, got %T", m["documents"])
		}
		raw = list
	case m["document"] != nil:
		raw = []any{m["document"]}
	}
	if len(raw) == 0 {
		return "", nil, invalidParam("either 'documents' or 'document' must be supplied")
	}

	docs = make([]PendingDocument, len(raw))
	for i, item := range raw {
		body, ok := item.(map[string]any)
		if !ok {
			return "", nil, invalidParam("documents[%d] must be an object, got %T", i, item)
		}
		body = maps.Clone(body)
		if v, has := body["id"]; has {
			id, ok := v.(string)
			if !ok {
				return "", nil, invalidParam("documents[%d].id must be a string, got %T", i, v)
			}
			delete(body, "id")
			docs[i].ID = id
		}
		docs[i].Body = body
	}
	return collection, docs, nil
}

// DocumentRef addresses one document.
type DocumentRef struct {
	Collection string
	ID         string
}

// ParseDocumentRef reads {"documentId": "...", "collection": "..."}. When
// required is false a missing id yields ok == false instead of an error.
func ParseDocumentRef(m map[string]any, required bool) (ref DocumentRef, ok bool, err error) {
	if ref.Collection, err = optString(m, "collection"); err != nil {
		return DocumentRef{}, false, err
	}
	if ref.ID, err = optString(m, "documentId"); err != nil {
		return DocumentRef{}, false, err
	}
	if ref.ID == "" {
		if required {
			return DocumentRef{}, false, invalidRequired("documentId")
		}
		return DocumentRef{}, false, nil
	}
	return ref, true, nil
}
