package form

import (
	"sort"

	"github.com/pitabwire/admindash/model"
)

// TableColumns derives the visible list columns from a field set, sorted by
// their table order.
func TableColumns(fields []model.FieldDefinition) []model.ColumnDescriptor {
	cols := make([]model.ColumnDescriptor, 0, len(fields))
	for _, fd := range fields {
		if !fd.Table.IsVisible() {
			continue
		}
		col := model.ColumnDescriptor{
			Key:   fd.Key,
			Label: fd.Label,
			Type:  string(fd.Type),
		}
		if fd.Table != nil {
			col.Sortable = fd.Table.Sortable
			col.Searchable = fd.Table.Searchable
			col.Filterable = fd.Table.Filterable
			col.Width = fd.Table.Width
			col.Order = fd.Table.Order
		}
		// Secrets never show up in lists.
		if fd.Type == model.FieldPassword {
			continue
		}
		cols = append(cols, col)
	}
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Order < cols[j].Order })
	return cols
}

// DetailFields returns the fields shown on a record's detail view.
func DetailFields(fields []model.FieldDefinition) []model.FieldDefinition {
	out := make([]model.FieldDefinition, 0, len(fields))
	for _, fd := range fields {
		if fd.Detail.IsVisible() && fd.Type != model.FieldPassword {
			out = append(out, fd)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return viewOrder(out[i].Detail) < viewOrder(out[j].Detail)
	})
	return out
}

// SearchableKeys lists the fields a free-text search applies to.
func SearchableKeys(fields []model.FieldDefinition) []string {
	var keys []string
	for _, fd := range fields {
		if fd.Table != nil && fd.Table.Searchable {
			keys = append(keys, fd.Key)
		}
	}
	return keys
}
