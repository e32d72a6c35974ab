package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("time_slots")

		collection.Fields.Add(
			&core.DateField{Name: "date", Required: true},
			&core.DateField{Name: "start_at", Required: true},
			&core.DateField{Name: "end_at", Required: true},
			&core.SelectField{
				Name:      "type",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"workshop", "space"},
			},
			&core.TextField{Name: "item_id"},
			&core.NumberField{
				Name:     "max_capacity",
				Required: true,
				OnlyInt:  true,
				Min:      types.Pointer(1.0),
			},
			&core.NumberField{
				Name:    "current_bookings",
				OnlyInt: true,
				Min:     types.Pointer(0.0),
			},
			&core.BoolField{Name: "is_available"},
			&core.TextField{Name: "override_price"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("time_slots")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
