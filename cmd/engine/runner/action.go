package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/tidwall/gjson"

	"github.com/weavr-ai/weavr/common/errs"
	"github.com/weavr-ai/weavr/common/model"
)

// HTTPRequestRunner executes ACTION.HTTP_REQUEST nodes. The URL, headers
// and body support {{path}} interpolation against the aggregated inputs.
type HTTPRequestRunner struct {
	client    *http.Client
	validator *URLValidator
	logger    Logger
}

// NewHTTPRequestRunner creates the HTTP action runner
func NewHTTPRequestRunner(client *http.Client, validator *URLValidator, logger Logger) *HTTPRequestRunner {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRequestRunner{client: client, validator: validator, logger: logger}
}

// Run performs the configured HTTP call and emits the parsed response
func (r *HTTPRequestRunner) Run(ctx context.Context, req *Request) (map[string]any, error) {
	config := req.Node.Configurations

	rawURL := Interpolate(cfgString(config, "url", ""), req.Inputs)
	if rawURL == "" {
		return nil, errs.New(errs.CodeInvalidWorkflow, fmt.Sprintf("node %s: url is required", req.Node.ID))
	}
	if err := r.validator.Validate(rawURL); err != nil {
		return nil, fmt.Errorf("url rejected: %w", err)
	}

	method := strings.ToUpper(cfgString(config, "method", http.MethodGet))

	var body io.Reader
	if rawBody, present := config["body"]; present && rawBody != nil {
		payload := rawBody
		if s, ok := rawBody.(string); ok {
			payload = Interpolate(s, req.Inputs)
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for name, value := range cfgMap(config, "headers") {
		if s, ok := value.(string); ok {
			httpReq.Header.Set(name, Interpolate(s, req.Inputs))
		}
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed any
	if len(raw) > 0 && gjson.ValidBytes(raw) {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			parsed = string(raw)
		}
	} else {
		parsed = string(raw)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"body":        parsed,
		"success":     resp.StatusCode < 400,
	}
	return map[string]any{model.PortResult: result}, nil
}

// DataTransformRunner executes ACTION.DATA_TRANSFORMATION nodes:
// field_mapping projects gjson paths, json_patch applies RFC 6902 patches.
type DataTransformRunner struct {
	logger Logger
}

// NewDataTransformRunner creates the transformation runner
func NewDataTransformRunner(logger Logger) *DataTransformRunner {
	return &DataTransformRunner{logger: logger}
}

// Run reshapes the inbound payload per the configured operation
func (r *DataTransformRunner) Run(ctx context.Context, req *Request) (map[string]any, error) {
	config := req.Node.Configurations
	operation := cfgString(config, "operation", "field_mapping")

	switch operation {
	case "field_mapping":
		return r.fieldMapping(req)
	case "json_patch":
		return r.jsonPatch(req)
	default:
		return nil, errs.New(errs.CodeInvalidWorkflow, fmt.Sprintf("node %s: unknown operation %q", req.Node.ID, operation))
	}
}

func (r *DataTransformRunner) fieldMapping(req *Request) (map[string]any, error) {
	mapping := cfgMap(req.Node.Configurations, "mapping")
	out := make(map[string]any, len(mapping))
	for target, source := range mapping {
		path, ok := source.(string)
		if !ok {
			out[target] = source
			continue
		}
		if value, found := Lookup(req.Inputs, path); found {
			out[target] = value
		}
	}
	return map[string]any{model.PortResult: out}, nil
}

func (r *DataTransformRunner) jsonPatch(req *Request) (map[string]any, error) {
	patchSpec := cfgSlice(req.Node.Configurations, "patch")
	rawPatch, err := json.Marshal(patchSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode patch: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(rawPatch)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidWorkflow, fmt.Sprintf("node %s: invalid patch", req.Node.ID), err)
	}

	source := req.Inputs[model.PortResult]
	if source == nil {
		source = map[string]any{}
	}
	doc, err := json.Marshal(source)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	patched, err := patch.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("patch application failed: %w", err)
	}

	var out any
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, fmt.Errorf("failed to decode patched document: %w", err)
	}
	return map[string]any{model.PortResult: out}, nil
}
