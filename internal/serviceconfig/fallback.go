package serviceconfig

import "github.com/pitabwire/admindash/model"

func hidden() *model.ViewConfig {
	v := false
	return &model.ViewConfig{Visible: &v}
}

func minLen(n int) *int         { return &n }
func number(f float64) *float64 { return &f }

// Fallback returns the built-in configs used until the backend supplies any,
// so the dashboard stays usable on first start.
func Fallback() []model.ServiceConfig {
	return []model.ServiceConfig{
		{
			Code:         "users",
			DisplayName:  "Users",
			Description:  "Manage user accounts",
			Icon:         "users",
			Category:     "management",
			DisplayOrder: 1,
			Enabled:      true,
			API: model.APIConfig{
				Endpoints: map[string]string{
					model.EndpointList:   "/api/users",
					model.EndpointGet:    "/api/users/{id}",
					model.EndpointCreate: "/api/users",
					model.EndpointUpdate: "/api/users/{id}",
					model.EndpointDelete: "/api/users/{id}",
				},
			},
			Fields: []model.FieldDefinition{
				{Key: "id", Label: "ID", Type: model.FieldText, ReadOnly: true, Form: hidden()},
				{
					Key: "name", Label: "Name", Type: model.FieldText, Required: true,
					Validation: &model.ValidationRules{Required: true, MinLength: minLen(2), MaxLength: minLen(100)},
					Table:      &model.ViewConfig{Sortable: true, Searchable: true, Order: 1},
				},
				{
					Key: "email", Label: "Email", Type: model.FieldEmail, Required: true,
					Validation: &model.ValidationRules{Required: true},
					Table:      &model.ViewConfig{Sortable: true, Searchable: true, Order: 2},
				},
				{
					Key: "role", Label: "Role", Type: model.FieldSelect, DefaultValue: "user",
					Options: []model.FieldOption{
						{Value: "admin", Label: "Administrator"},
						{Value: "user", Label: "User"},
						{Value: "viewer", Label: "Viewer"},
					},
					Table: &model.ViewConfig{Filterable: true, Order: 3},
				},
				{Key: "active", Label: "Active", Type: model.FieldBoolean, DefaultValue: true, Table: &model.ViewConfig{Filterable: true, Order: 4}},
				{Key: "createdAt", Label: "Created", Type: model.FieldDatetime, ReadOnly: true, Form: hidden(), Table: &model.ViewConfig{Sortable: true, Order: 5}},
			},
			Features: model.Features{Create: true, Update: true, Delete: true, Search: true, Filters: true, Pagination: true},
		},
		{
			Code:         "products",
			DisplayName:  "Products",
			Description:  "Manage the product catalogue",
			Icon:         "package",
			Category:     "catalogue",
			DisplayOrder: 2,
			Enabled:      true,
			API: model.APIConfig{
				Endpoints: map[string]string{
					model.EndpointList:   "/api/products",
					model.EndpointGet:    "/api/products/{id}",
					model.EndpointCreate: "/api/products",
					model.EndpointUpdate: "/api/products/{id}",
					model.EndpointDelete: "/api/products/{id}",
				},
			},
			Fields: []model.FieldDefinition{
				{Key: "id", Label: "ID", Type: model.FieldText, ReadOnly: true, Form: hidden()},
				{
					Key: "name", Label: "Name", Type: model.FieldText, Required: true,
					Validation: &model.ValidationRules{Required: true, MaxLength: minLen(200)},
					Table:      &model.ViewConfig{Sortable: true, Searchable: true, Order: 1},
				},
				{
					Key: "sku", Label: "SKU", Type: model.FieldText,
					Validation: &model.ValidationRules{Pattern: `^[A-Z0-9-]+$`, Message: "SKU may contain only upper-case letters, digits and dashes"},
					Table:      &model.ViewConfig{Searchable: true, Order: 2},
				},
				{
					Key: "price", Label: "Price", Type: model.FieldNumber, Required: true,
					Validation: &model.ValidationRules{Required: true, Min: number(0), Step: number(0.01)},
					Table:      &model.ViewConfig{Sortable: true, Order: 3},
				},
				{
					Key: "category", Label: "Category", Type: model.FieldSelect,
					Options: []model.FieldOption{
						{Value: "hardware", Label: "Hardware"},
						{Value: "software", Label: "Software"},
						{Value: "services", Label: "Services"},
					},
					Table: &model.ViewConfig{Filterable: true, Order: 4},
				},
				{Key: "description", Label: "Description", Type: model.FieldTextarea, Table: hidden()},
				{Key: "inStock", Label: "In stock", Type: model.FieldBoolean, DefaultValue: true, Table: &model.ViewConfig{Filterable: true, Order: 5}},
			},
			Features: model.Features{Create: true, Update: true, Delete: true, Search: true, Filters: true, Pagination: true, Export: true},
		},
	}
}
