package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("bookings")

		collection.Fields.Add(
			&core.TextField{Name: "booking_id", Required: true},
			&core.TextField{Name: "user_id", Required: true},
			&core.TextField{Name: "time_slot_id", Required: true},
			&core.SelectField{
				Name:      "type",
				MaxSelect: 1,
				Values:    []string{"workshop", "space"},
			},
			&core.SelectField{
				Name:      "status",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"pending", "confirmed", "completed", "cancelled", "refunded", "no_show"},
			},
			&core.TextField{Name: "total_amount"},
			&core.TextField{Name: "title"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_bookings_booking_id", true, "booking_id", "")
		collection.AddIndex("idx_bookings_user_id", false, "user_id", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("bookings")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
