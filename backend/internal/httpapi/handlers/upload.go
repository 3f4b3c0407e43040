package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"sheetServer/backend/internal/sheet"
)

type uploadRequest struct {
	SheetID string `json:"sheetId"`
	Data    struct {
		SetByGM     json.RawMessage `json:"set_by_gm"`
		SetByPlayer json.RawMessage `json:"set_by_player"`
	} `json:"data"`
}

// Upload creates a synced sheet from an offline (no-sync) document.
// Responses: 400 invalid/reserved id or body, 409 id taken, 500 storage
// failure, 200 with the room URL on success.
func Upload(buffer *sheet.Buffer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req uploadRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.SheetID == "" || len(req.Data.SetByGM) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid",
				"message": "Missing sheetId or data",
			})
			return
		}

		log.Printf("requested to upload new sheet to /%s", req.SheetID)
		err := buffer.CreateNew(c.Request.Context(), req.SheetID, req.Data.SetByGM, req.Data.SetByPlayer)
		if err != nil {
			status, code := http.StatusInternalServerError, "server"
			switch {
			case errors.Is(err, sheet.ErrInvalidSheetID):
				status, code = http.StatusBadRequest, "invalid"
			case errors.Is(err, sheet.ErrReservedSheetID):
				status, code = http.StatusBadRequest, "reserved"
			case errors.Is(err, sheet.ErrSheetExists):
				status, code = http.StatusConflict, "exists"
			}
			log.Printf("upload to /%s failed: %s (%v)", req.SheetID, code, err)
			c.JSON(status, gin.H{
				"error":   code,
				"message": "Failed to create sheet: " + code,
			})
			return
		}

		id := sheet.NormalizeSheetID(req.SheetID)
		log.Printf("upload to /%s successful", id)
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"sheetId": id,
			"url":     "/" + id,
		})
	}
}
