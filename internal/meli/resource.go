package meli

// Resource describes one marketplace API endpoint: a fixed path or a path
// templated on a data parameter, optionally annotated with how to read
// multi-page metadata and how to reshape the raw payload.
type Resource struct {
	name        string
	path        string
	template    func(data string) string
	pageInfo    func(payload map[string]any) (PageInfo, bool)
	mapResponse func(payload map[string]any) map[string]any
}

// PageInfo is the pagination metadata a paged payload reports.
type PageInfo struct {
	Total  int
	Limit  int
	Offset int
}

// Static declares a resource with a fixed path.
func Static(name, path string) Resource {
	return Resource{name: name, path: path}
}

// Templated declares a resource whose path is a function of a data
// parameter, e.g. an item or question id.
func Templated(name string, template func(data string) string) Resource {
	return Resource{name: name, template: template}
}

// WithPaging annotates the resource with the standard paging extractor.
func (r Resource) WithPaging() Resource {
	r.pageInfo = pagingInfo
	return r
}

// WithResponseMapper annotates the resource with a payload reshaping step
// applied to every fetched page.
func (r Resource) WithResponseMapper(fn func(payload map[string]any) map[string]any) Resource {
	r.mapResponse = fn
	return r
}

func (r Resource) Name() string {
	return r.name
}

// Path resolves the resource path. Templated resources require data.
func (r Resource) Path(data string) (string, error) {
	if r.template == nil {
		return r.path, nil
	}
	if data == "" {
		return "", &MalformedResourceError{Resource: r.name}
	}
	return r.template(data), nil
}

// pagingInfo reads the `paging` object MercadoLibre search responses
// carry: {"paging": {"total": N, "limit": M, "offset": O}}.
func pagingInfo(payload map[string]any) (PageInfo, bool) {
	paging, ok := payload["paging"].(map[string]any)
	if !ok {
		return PageInfo{}, false
	}

	total, okTotal := asInt(paging["total"])
	limit, okLimit := asInt(paging["limit"])
	if !okTotal || !okLimit || limit <= 0 {
		return PageInfo{}, false
	}

	offset, _ := asInt(paging["offset"])
	return PageInfo{Total: total, Limit: limit, Offset: offset}, true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
