package handler

import (
	"encoding/csv"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/uma-arai/sbcntr-ticket/internal/model"
)

// csvHeader はエクスポートする列です
// 署名はペイロードを再現できてしまうため出力しません
var csvHeader = []string{"id", "holder_name", "holder_contact", "slot_ref", "status", "created_at", "checked_in_at", "updated_at"}

func writeReservationsCSV(c *gin.Context, list []model.Reservation) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="reservations.csv"`)
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	if err := w.Write(csvHeader); err != nil {
		log.Printf("Failed to write CSV header: %v", err)
		return
	}
	for _, res := range list {
		checkedInAt := ""
		if res.CheckedInAt != nil {
			checkedInAt = res.CheckedInAt.UTC().Format(time.RFC3339Nano)
		}
		record := []string{
			res.ID,
			res.HolderName,
			res.HolderContact,
			res.SlotRef,
			string(res.Status),
			res.CreatedAt.UTC().Format(time.RFC3339Nano),
			checkedInAt,
			res.UpdatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := w.Write(record); err != nil {
			log.Printf("Failed to write CSV row for reservation %s: %v", res.ID, err)
			return
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		log.Printf("Failed to flush CSV export: %v", err)
	}
}
