package filter

import (
	"context"

	"github.com/dotcelery/dotcelery/internal/taskcontext"
)

// PropertyTenantID is the Properties-bag key TenantContextFilter publishes
// the envelope's tenantId under, for handlers and downstream filters.
const PropertyTenantID = "dotcelery.tenant_id"

// TenantContextFilter copies the envelope's tenantId into the invocation's
// Properties bag so handlers and later filters can read it without
// threading the TaskMessage itself through every call.
type TenantContextFilter struct {
	Base
}

// NewTenantContextFilter builds the filter at its canonical order.
func NewTenantContextFilter() *TenantContextFilter {
	return &TenantContextFilter{Base: NewBase(OrderTenantContext)}
}

func (f *TenantContextFilter) OnExecuting(ctx context.Context, tc *taskcontext.Context, state *State) error {
	tc.SetProperty(PropertyTenantID, tc.TenantID())
	return nil
}
