package ddl_test

import (
	"errors"
	"testing"

	"github.com/localnerve/doctypesdb/internal/ddl"
	"github.com/localnerve/doctypesdb/internal/schema"
	"github.com/localnerve/doctypesdb/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func existing(attrs ...schema.AttributeSpec) []ddl.ExistingColumn {
	out := make([]ddl.ExistingColumn, len(attrs))
	for i := range attrs {
		a := attrs[i]
		a.Order = i + 1
		out[i] = ddl.ExistingColumn{Name: a.Column(), Kind: a.Kind(), Attribute: &a}
	}
	return out
}

func attr(name string, t schema.AttributeType) schema.AttributeSpec {
	a := schema.AttributeSpec{Name: name, Type: t}
	if t == schema.TypeSelect {
		a.Options = []string{"draft", "sent"}
	}
	return a
}

func kinds(p *ddl.Plan) []string {
	out := make([]string, len(p.Operations))
	for i, op := range p.Operations {
		out[i] = string(op.Kind) + " " + op.Column
	}
	return out
}

func TestPlanOrdersRenamesAddsDrops(t *testing.T) {
	current := existing(attr("amount", schema.TypeNumber), attr("status", schema.TypeSelect), attr("old", schema.TypeText))
	state := attr("state", schema.TypeSelect)
	state.RenameFrom = "status"
	target := schema.MustValidate([]schema.AttributeSpec{
		attr("amount", schema.TypeNumber),
		state,
		attr("due", schema.TypeDate),
	})

	plan, err := ddl.BuildPlan("dt_invoice", target, current, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ModifyColumn state", "AddColumn due", "DropColumn old"}, kinds(plan))
	assert.True(t, plan.Physical())
	assert.Equal(t, "status→state", plan.Operations[0].Ref().Detail)
	assert.Equal(t, "date", plan.Operations[1].Ref().Detail)
}

func TestPlanUnchangedIsEmpty(t *testing.T) {
	current := existing(attr("amount", schema.TypeNumber), attr("status", schema.TypeSelect))
	target := schema.MustValidate([]schema.AttributeSpec{attr("amount", schema.TypeNumber), attr("status", schema.TypeSelect)})

	plan, err := ddl.BuildPlan("dt_invoice", target, current, nil)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.False(t, plan.Physical())
}

func TestPlanReorderIsMetadataOnly(t *testing.T) {
	current := existing(attr("amount", schema.TypeNumber), attr("status", schema.TypeSelect))
	target := schema.MustValidate([]schema.AttributeSpec{attr("status", schema.TypeSelect), attr("amount", schema.TypeNumber)})

	plan, err := ddl.BuildPlan("dt_invoice", target, current, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ReorderColumn status", "ReorderColumn amount"}, kinds(plan))
	assert.False(t, plan.Physical())
	assert.Equal(t, "2→1", plan.Operations[0].Ref().Detail)
}

func TestPlanConstraintChangeIsMetadataOnly(t *testing.T) {
	current := existing(attr("amount", schema.TypeNumber))
	changed := attr("amount", schema.TypeNumber)
	changed.Required = true
	target := schema.MustValidate([]schema.AttributeSpec{changed})

	plan, err := ddl.BuildPlan("dt_invoice", target, current, nil)
	require.NoError(t, err)
	require.Len(t, plan.Operations, 1)
	assert.Equal(t, "constraints", plan.Operations[0].Ref().Detail)
	assert.False(t, plan.Physical())
}

func TestPlanChainedRenamesVacateFirst(t *testing.T) {
	current := existing(attr("a", schema.TypeText), attr("b", schema.TypeText))
	c := attr("c", schema.TypeText)
	c.RenameFrom = "b"
	b := attr("b", schema.TypeText)
	b.RenameFrom = "a"
	target := schema.MustValidate([]schema.AttributeSpec{b, c})

	plan, err := ddl.BuildPlan("dt_t", target, current, nil)
	require.NoError(t, err)
	require.Len(t, plan.Operations, 2)
	assert.Equal(t, "b", plan.Operations[0].From)
	assert.Equal(t, "c", plan.Operations[0].Column)
	assert.Equal(t, "a", plan.Operations[1].From)
}

func TestPlanRenameCycleRejected(t *testing.T) {
	current := existing(attr("a", schema.TypeText), attr("b", schema.TypeText))
	b := attr("b", schema.TypeText)
	b.RenameFrom = "a"
	a := attr("a", schema.TypeText)
	a.RenameFrom = "b"
	target := schema.MustValidate([]schema.AttributeSpec{b, a})

	_, err := ddl.BuildPlan("dt_t", target, current, nil)
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.True(t, ve.Has(ddl.CodeRename))
}

func TestPlanRenameFromMissingColumn(t *testing.T) {
	current := existing(attr("a", schema.TypeText))
	b := attr("b", schema.TypeText)
	b.RenameFrom = "zzz"
	target := schema.MustValidate([]schema.AttributeSpec{attr("a", schema.TypeText), b})

	_, err := ddl.BuildPlan("dt_t", target, current, nil)
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.True(t, ve.Has(ddl.CodeRename))
}

func TestPlanKindChangeNeedsConverter(t *testing.T) {
	current := existing(attr("amount", schema.TypeText))
	target := schema.MustValidate([]schema.AttributeSpec{attr("amount", schema.TypeNumber)})

	_, err := ddl.BuildPlan("dt_t", target, current, nil)
	var ve *types.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.True(t, ve.Has(ddl.CodeConversion))

	conv, ok := ddl.BuiltinConverter("to_number")
	require.True(t, ok)
	plan, err := ddl.BuildPlan("dt_t", target, current, map[string]ddl.Converter{"amount": conv})
	require.NoError(t, err)
	require.Len(t, plan.Operations, 1)
	assert.True(t, plan.Operations[0].TypeChange())
	assert.Equal(t, "string→number", plan.Operations[0].Ref().Detail)
}

func TestPlanWideningNeedsNoConverter(t *testing.T) {
	current := existing(attr("notes", schema.TypeText), attr("due", schema.TypeDate))
	target := schema.MustValidate([]schema.AttributeSpec{attr("notes", schema.TypeTextarea), attr("due", schema.TypeDatetime)})

	plan, err := ddl.BuildPlan("dt_t", target, current, nil)
	require.NoError(t, err)
	require.Len(t, plan.Operations, 2)
	assert.True(t, ddl.Widening(schema.KindString, schema.KindText))
	assert.False(t, ddl.Widening(schema.KindText, schema.KindString))
}

func TestProjectSchemaPartial(t *testing.T) {
	previous := []schema.AttributeSpec{attr("amount", schema.TypeNumber), attr("status", schema.TypeSelect)}
	previous[0].Order, previous[1].Order = 1, 2
	current := existing(previous...)
	state := attr("state", schema.TypeSelect)
	state.RenameFrom = "status"
	target := schema.MustValidate([]schema.AttributeSpec{attr("amount", schema.TypeNumber), state, attr("due", schema.TypeDate)})

	plan, err := ddl.BuildPlan("dt_invoice", target, current, nil)
	require.NoError(t, err)
	require.Len(t, plan.Operations, 2)

	names := func(attrs []schema.AttributeSpec) []string {
		out := make([]string, len(attrs))
		for i, a := range attrs {
			out[i] = a.Name
		}
		return out
	}
	assert.Equal(t, []string{"amount", "status"}, names(ddl.ProjectSchema(previous, plan, 0)))
	assert.Equal(t, []string{"amount", "state"}, names(ddl.ProjectSchema(previous, plan, 1)))
	full := ddl.ProjectSchema(previous, plan, 2)
	assert.Equal(t, []string{"amount", "state", "due"}, names(full))
	assert.Empty(t, full[1].RenameFrom)
}

func TestBuiltinConverters(t *testing.T) {
	assert.Equal(t, []string{"to_date", "to_datetime", "to_number", "to_string", "to_time"}, ddl.BuiltinConverterNames())

	toNumber, _ := ddl.BuiltinConverter("to_number")
	v, err := toNumber("12.5")
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)
	_, err = toNumber("twelve")
	assert.Error(t, err)

	_, ok := ddl.BuiltinConverter("to_nothing")
	assert.False(t, ok)
}
