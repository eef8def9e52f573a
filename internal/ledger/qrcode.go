package ledger

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	defaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

// ClaimURI is the link a farmer's wallet opens to claim d.
func ClaimURI(d *Disbursement) string {
	q := url.Values{}
	q.Set("farmer", d.Farmer)
	q.Set("amount", d.Amount.String())
	q.Set("deadline", strconv.FormatInt(d.ClaimDeadline, 10))
	return fmt.Sprintf("fairfund:claim/%d?%s", d.ID, q.Encode())
}

// claimQR handles GET /disbursements/:id/qr?size=
func (h *Handler) claimQR(c *gin.Context) {
	id, ok := h.disbursementID(c)
	if !ok {
		return
	}
	size := defaultQRSize
	if s := c.Query("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < minQRSize || n > maxQRSize {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("size must be between %d and %d", minQRSize, maxQRSize),
				"code":  "invalid_size",
			})
			return
		}
		size = n
	}

	d, err := h.ledger.GetDisbursementDetails(id)
	if err != nil {
		h.fail(c, "Failed to get disbursement", err)
		return
	}
	if !d.Open() {
		h.fail(c, "Disbursement is settled", fmt.Errorf("%w: disbursement %d is %s", ErrAlreadyClaimed, id, d.Status))
		return
	}

	png, err := qrcode.Encode(ClaimURI(d), qrcode.Medium, size)
	if err != nil {
		h.fail(c, "Failed to encode claim QR code", err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}
