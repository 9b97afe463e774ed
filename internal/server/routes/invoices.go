package routes

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"bizmatch/internal/models"
	"bizmatch/internal/workflow"
)

const pdfContentType = "application/pdf"

type InvoiceRoutes struct {
	server ServerInterface
}

func NewInvoiceRoutes(server ServerInterface) *InvoiceRoutes {
	return &InvoiceRoutes{server: server}
}

func (ir *InvoiceRoutes) RegisterRoutes(r *gin.Engine) {
	middleware := NewMiddleware(ir.server)

	invoices := r.Group("/invoices")
	invoices.Use(middleware.AuthMiddleware(), middleware.ActiveMiddleware())
	{
		invoices.GET("", ir.listInvoicesHandler)
		invoices.POST("/issue", ir.issueInvoiceHandler)
		invoices.PATCH("/:id/status", middleware.AdminMiddleware(), ir.updateStatusHandler)
		invoices.GET("/:id/pdf", ir.downloadPDFHandler)
	}
}

func (ir *InvoiceRoutes) listInvoicesHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	invoices, err := ir.server.GetWorkflow().ListInvoices(c.Request.Context(), actor)
	if err != nil {
		respondError(c, ir.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoices": invoices, "total": len(invoices)})
}

// issueInvoiceHandler generates and stores the invoice. Clients asking for a
// PDF get the document as a download, everyone else the invoice record.
func (ir *InvoiceRoutes) issueInvoiceHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	var req workflow.IssueInput
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	res, err := ir.server.GetWorkflow().CreateOrUpdateInvoice(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, ir.server, err)
		return
	}

	if c.NegotiateFormat(gin.MIMEJSON, pdfContentType) == pdfContentType {
		sendPDF(c, res.Invoice.ID, res.PDF)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (ir *InvoiceRoutes) updateStatusHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	status, err := models.ParseInvoiceStatus(req.Status)
	if err != nil {
		respondError(c, ir.server, err)
		return
	}

	invoice, err := ir.server.GetWorkflow().UpdateInvoiceStatus(c.Request.Context(), actor, c.Param("id"), status)
	if err != nil {
		respondError(c, ir.server, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": invoice})
}

func (ir *InvoiceRoutes) downloadPDFHandler(c *gin.Context) {
	actor := c.MustGet("user").(*models.User)

	pdf, err := ir.server.GetWorkflow().InvoicePDF(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, ir.server, err)
		return
	}
	sendPDF(c, c.Param("id"), pdf)
}

func sendPDF(c *gin.Context, invoiceID string, pdf []byte) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="invoice-%s.pdf"`, invoiceID))
	c.Data(http.StatusOK, pdfContentType, pdf)
}
