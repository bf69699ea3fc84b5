package mutation

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/roach88/livekv/internal/ir"
)

// RequestSpec is the YAML form of a request. A request file is a list of
// them:
//
//	# requests.yaml
//	- op: put
//	  store: items
//	  data: {id: 1, tag: x}
type RequestSpec struct {
	Op    string `yaml:"op"`
	Store string `yaml:"store"`
	Data  any    `yaml:"data"`
}

// Request converts s into a validated Request.
func (s RequestSpec) Request() (Request, error) {
	op, err := ParseOperation(s.Op)
	if err != nil {
		return Request{}, err
	}

	req := Request{Op: op, Store: s.Store}
	if op != OpClear {
		data, err := ir.FromGo(s.Data)
		if err != nil {
			return Request{}, fmt.Errorf("%s %s: data: %w", op, s.Store, err)
		}
		req.Data = data
	}

	if err := req.Validate(); err != nil {
		return Request{}, err
	}
	return req, nil
}

// DecodeRequests reads a YAML list of requests.
func DecodeRequests(r io.Reader) ([]Request, error) {
	var specs []RequestSpec
	if err := yaml.NewDecoder(r).Decode(&specs); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode requests: %w", err)
	}

	reqs := make([]Request, 0, len(specs))
	for i, spec := range specs {
		req, err := spec.Request()
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
