package broker

import (
	"context"
	"fmt"
)

// GetConditionList returns the screening conditions registered server-side.
func (g *Gateway) GetConditionList(ctx context.Context) ([]Condition, error) {
	var resp struct {
		Conditions []Condition `json:"conditions"`
	}
	if err := g.readCall(ctx, "CONDITION_LIST", nil, &resp); err != nil {
		return nil, fmt.Errorf("get condition list: %w", err)
	}
	return resp.Conditions, nil
}

// RunConditionSearch executes one server-side screen and returns the raw
// candidates it matched.
func (g *Gateway) RunConditionSearch(ctx context.Context, id string) ([]Candidate, error) {
	var resp struct {
		Candidates []Candidate `json:"candidates"`
	}
	req := map[string]string{"condition_id": id}
	if err := g.readCall(ctx, "CONDITION_SEARCH", req, &resp); err != nil {
		return nil, fmt.Errorf("run condition search %s: %w", id, err)
	}
	return resp.Candidates, nil
}
