package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"bizmatch/internal/database"
	"bizmatch/internal/models"
)

const (
	taxPercent = 10
	taxRate    = taxPercent / 100.0
	// registrationPending is printed when the partner has no invoice
	// registration number yet.
	registrationPending = "登録申請中"
)

type BillingParty struct {
	Name               string `json:"name"`
	Address            string `json:"address"`
	Phone              string `json:"phone"`
	Email              string `json:"email,omitempty"`
	RegistrationNumber string `json:"registrationNumber,omitempty"`
	BankInfo           any    `json:"bankInfo,omitempty"`
}

type LineItem struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   int64   `json:"unitPrice"`
	TaxRate     float64 `json:"taxRate"`
	Amount      int64   `json:"amount"`
}

// InvoicePayload is the body posted to the document-generation webhook.
type InvoicePayload struct {
	InvoiceID       string       `json:"invoiceId"`
	IssueDate       string       `json:"issueDate"`
	PaymentDeadline string       `json:"paymentDeadline"`
	ProjectID       string       `json:"projectId"`
	ProjectTitle    string       `json:"projectTitle"`
	Partner         BillingParty `json:"partner"`
	Client          BillingParty `json:"client"`
	Items           []LineItem   `json:"items"`
	SubTotal        int64        `json:"subTotal"`
	TaxAmount       int64        `json:"taxAmount"`
	TotalAmount     int64        `json:"totalAmount"`
}

// Totals computes tax and total for a pre-tax amount. Both are rounded down.
func Totals(amount int64) (subTotal, tax, total int64) {
	subTotal = amount
	tax = floorDiv(amount*taxPercent, 100)
	total = floorDiv(amount*(100+taxPercent), 100)
	return subTotal, tax, total
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// PaymentDeadline is the last day of the month after next, counted from
// the issue date: an invoice issued in January is due on March 31.
func PaymentDeadline(issued time.Time) time.Time {
	y, m, _ := issued.Date()
	return time.Date(y, m+3, 0, 0, 0, 0, 0, issued.Location())
}

// ParseBankInfo decodes the stored bank details. Anything that is not a JSON
// object is returned unchanged as a string.
func ParseBankInfo(raw string) any {
	if raw == "" {
		return nil
	}
	if !gjson.Valid(raw) {
		return raw
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return raw
	}
	return parsed.Value()
}

func (o *Orchestrator) buildPayload(invoiceID string, issued time.Time, project *models.Project, partner *models.User, amount int64) *InvoicePayload {
	registration := partner.InvoiceRegistrationNumber
	if registration == "" {
		registration = registrationPending
	}
	subTotal, tax, total := Totals(amount)
	return &InvoicePayload{
		InvoiceID:       invoiceID,
		IssueDate:       dateString(issued),
		PaymentDeadline: dateString(PaymentDeadline(issued)),
		ProjectID:       project.ID,
		ProjectTitle:    project.Title,
		Partner: BillingParty{
			Name:               partner.Name,
			Address:            partner.Address,
			Phone:              partner.Phone,
			Email:              partner.Email,
			RegistrationNumber: registration,
			BankInfo:           ParseBankInfo(partner.BankInfo),
		},
		Client: BillingParty{
			Name:    o.billing.ClientName,
			Address: o.billing.ClientAddress,
			Phone:   o.billing.ClientPhone,
			Email:   o.billing.ClientEmail,
		},
		Items: []LineItem{{
			Description: project.Title,
			Quantity:    1,
			UnitPrice:   amount,
			TaxRate:     taxRate,
			Amount:      amount,
		}},
		SubTotal:    subTotal,
		TaxAmount:   tax,
		TotalAmount: total,
	}
}

type IssueInput struct {
	ProjectID string `json:"projectId" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
	// InvoiceID re-issues an existing invoice. When empty the project's
	// unbilled stub is used, or a new invoice is created.
	InvoiceID string `json:"invoiceId"`
}

type IssueResult struct {
	Invoice *models.Invoice `json:"invoice"`
	// PDF is the generated document, returned to the issuer as a download.
	PDF []byte `json:"-"`
	// Durable is false when the document only reached the ephemeral store.
	Durable bool `json:"durable"`
	Reissue bool `json:"reissue"`
}

// CreateOrUpdateInvoice generates the invoice document through the webhook,
// stores it, and marks the invoice billed. The record write happens in one
// transaction; if it fails the stored document is removed again.
func (o *Orchestrator) CreateOrUpdateInvoice(ctx context.Context, actor *models.User, in IssueInput) (res *IssueResult, err error) {
	started := time.Now()
	defer func() {
		o.finish(ctx, "issue_invoice", started, err, "請求書を発行しました", "請求書の発行に失敗しました")
	}()

	if actor == nil {
		return nil, ErrForbidden
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	project, err := o.db.Projects.Get(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}
	if project.AssignedToUserID == "" {
		return nil, fmt.Errorf("%w: project %s has no assigned partner", ErrInvalidTransition, project.ID)
	}
	if !actor.IsAdmin() && actor.ID != project.AssignedToUserID {
		return nil, ErrForbidden
	}
	partner, err := o.db.Users.Get(ctx, project.AssignedToUserID)
	if err != nil {
		return nil, err
	}

	existing, err := o.invoiceToIssue(ctx, project, in.InvoiceID)
	if err != nil {
		return nil, err
	}
	invoiceID := uuid.NewString()
	if existing != nil {
		invoiceID = existing.ID
	}

	issued := o.today()
	payload := o.buildPayload(invoiceID, issued, project, partner, in.Amount)
	pdf, err := o.generator.Generate(ctx, payload)
	if err != nil {
		return nil, err
	}

	var ref string
	var durable bool
	if existing != nil && existing.PDFURL != "" {
		ref, durable, err = o.pdfs.SaveRevision(ctx, invoiceID, issued.Format("20060102")+"-"+uuid.NewString()[:8], pdf)
	} else {
		ref, durable, err = o.pdfs.Save(ctx, invoiceID, pdf)
	}
	if err != nil {
		return nil, err
	}

	var invoice *models.Invoice
	var replaced string
	err = o.db.Transaction(ctx, func(tx *models.DB) error {
		fields := database.Record{
			"amount":          in.Amount,
			"issueDate":       payload.IssueDate,
			"paymentDeadline": payload.PaymentDeadline,
			"status":          models.InvoiceBilled,
			"pdfUrl":          ref,
		}
		if existing != nil {
			current, err := tx.Invoices.Lock(ctx, existing.ID)
			if err != nil {
				return err
			}
			if current.Status == models.InvoicePaid {
				return ErrInvoicePaid
			}
			replaced = current.PDFURL
			if err := tx.Invoices.Update(ctx, current.ID, fields); err != nil {
				return err
			}
			invoice, err = tx.Invoices.Get(ctx, current.ID)
			return err
		}
		invoice = &models.Invoice{
			ID:              invoiceID,
			ProjectID:       project.ID,
			UserID:          partner.ID,
			Amount:          in.Amount,
			IssueDate:       payload.IssueDate,
			PaymentDeadline: payload.PaymentDeadline,
			Status:          models.InvoiceBilled,
			PDFURL:          ref,
			CreatedAt:       o.now().UTC(),
		}
		return tx.Invoices.Create(ctx, invoice)
	})
	if err != nil {
		if existing == nil || existing.PDFURL != ref {
			if rmErr := o.pdfs.Remove(ctx, ref); rmErr != nil {
				o.log.WithError(rmErr).WithField("invoice_id", invoiceID).Warn("failed to remove orphaned invoice document")
			}
		}
		return nil, err
	}
	if replaced != "" && replaced != ref {
		if rmErr := o.pdfs.Remove(ctx, replaced); rmErr != nil {
			o.log.WithError(rmErr).WithField("invoice_id", invoiceID).Warn("failed to remove replaced invoice document")
		}
	}

	o.log.WithFields(logrus.Fields{
		"invoice_id": invoice.ID,
		"project_id": project.ID,
		"durable":    durable,
	}).Info("invoice issued")

	title := "請求書が発行されました"
	if existing != nil && existing.Status == models.InvoiceBilled {
		title = "請求書が更新されました"
	}
	_, _, total := Totals(in.Amount)
	o.notifier.NotifyAdmins(ctx, models.NotifyInvoice, title,
		fmt.Sprintf("%s さんが「%s」の請求書（%s 税込）を発行しました。", partner.Name, project.Title, formatYen(total)),
		models.LinkInvoices)

	return &IssueResult{Invoice: invoice, PDF: pdf, Durable: durable, Reissue: existing != nil && existing.Status == models.InvoiceBilled}, nil
}

// invoiceToIssue resolves the invoice being (re-)issued for project: the
// named one, or else the project's unbilled stub. It returns nil when a new
// invoice should be created.
func (o *Orchestrator) invoiceToIssue(ctx context.Context, project *models.Project, invoiceID string) (*models.Invoice, error) {
	if invoiceID != "" {
		inv, err := o.db.Invoices.Get(ctx, invoiceID)
		if err != nil {
			return nil, err
		}
		if inv.ProjectID != project.ID || inv.UserID != project.AssignedToUserID {
			return nil, fmt.Errorf("%w: invoice %s does not belong to project %s", ErrInvalidInput, inv.ID, project.ID)
		}
		if inv.Status == models.InvoicePaid {
			return nil, ErrInvoicePaid
		}
		return inv, nil
	}

	invoices, err := o.db.Invoices.ForProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		if invoices[i].Status == models.InvoiceUnbilled && invoices[i].UserID == project.AssignedToUserID {
			return &invoices[i], nil
		}
	}
	return nil, nil
}

// UpdateInvoiceStatus is the admin's manual status change. Moving to billed
// restamps the issue date; moving to paid notifies the owner once.
func (o *Orchestrator) UpdateInvoiceStatus(ctx context.Context, actor *models.User, invoiceID string, status models.InvoiceStatus) (invoice *models.Invoice, err error) {
	started := time.Now()
	defer func() {
		o.finish(ctx, "update_invoice_status", started, err, "請求ステータスを更新しました", "請求ステータスの更新に失敗しました")
	}()

	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	status, err = models.ParseInvoiceStatus(string(status))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	var previous models.InvoiceStatus
	err = o.db.Transaction(ctx, func(tx *models.DB) error {
		current, err := tx.Invoices.Lock(ctx, invoiceID)
		if err != nil {
			return err
		}
		previous = current.Status

		fields := database.Record{"status": status}
		if status == models.InvoiceBilled {
			fields["issueDate"] = dateString(o.today())
		}
		if err := tx.Invoices.Update(ctx, current.ID, fields); err != nil {
			return err
		}
		invoice, err = tx.Invoices.Get(ctx, current.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if status == models.InvoicePaid && previous != models.InvoicePaid {
		o.notifier.Notify(ctx, invoice.UserID, models.NotifyPayment, "お支払いが完了しました",
			fmt.Sprintf("請求額 %s のお支払いを確認しました。", formatYen(invoice.Amount)),
			models.LinkInvoices)
	}
	return invoice, nil
}

// ListInvoices returns every invoice to admins and their own to partners.
func (o *Orchestrator) ListInvoices(ctx context.Context, actor *models.User) ([]models.Invoice, error) {
	if actor.IsAdmin() {
		return o.db.Invoices.List(ctx, "")
	}
	return o.db.Invoices.List(ctx, actor.ID)
}

// InvoicePDF returns the stored document of an invoice.
func (o *Orchestrator) InvoicePDF(ctx context.Context, actor *models.User, invoiceID string) ([]byte, error) {
	invoice, err := o.db.Invoices.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && invoice.UserID != actor.ID {
		return nil, ErrForbidden
	}
	if invoice.PDFURL == "" {
		return nil, fmt.Errorf("invoice %s has no document: %w", invoice.ID, models.ErrNotFound)
	}
	return o.pdfs.Open(ctx, invoice.PDFURL)
}

// NotifyOverdueInvoices warns owners and admins about billed invoices past
// their payment deadline. Each invoice is reported once.
func (o *Orchestrator) NotifyOverdueInvoices(ctx context.Context) (int, error) {
	billed, err := o.db.Invoices.WithStatus(ctx, models.InvoiceBilled)
	if err != nil {
		return 0, err
	}
	today := dateString(o.today())
	now := o.now().UTC()

	count := 0
	for _, inv := range billed {
		if inv.OverdueNotifiedAt != nil || inv.PaymentDeadline == "" || inv.PaymentDeadline >= today {
			continue
		}
		if err := o.db.Invoices.Update(ctx, inv.ID, database.Record{"overdueNotifiedAt": now}); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return count, err
		}
		msg := fmt.Sprintf("支払期限（%s）を過ぎた請求書があります（%s）。", inv.PaymentDeadline, formatYen(inv.Amount))
		o.notifier.Notify(ctx, inv.UserID, models.NotifyOverdue, "支払期限超過", msg, models.LinkInvoices)
		o.notifier.NotifyAdmins(ctx, models.NotifyOverdue, "支払期限超過", msg, models.LinkInvoices)
		count++
	}
	return count, nil
}
