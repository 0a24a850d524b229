package extraction

// Model names one prebuilt analysis model and where its fields live.
// InvoiceModel and ReceiptModel are the only models used; both map through
// Map, so every field gets the same normalisation.
type Model struct {
	Name        string
	ID          string
	NumberField string // empty when the model has no document number
	DateField   string
	AmountField string
	VendorField string
}

var (
	InvoiceModel = Model{
		Name:        "invoice",
		ID:          "prebuilt-invoice",
		NumberField: "InvoiceId",
		DateField:   "InvoiceDate",
		AmountField: "InvoiceTotal",
		VendorField: "VendorName",
	}
	ReceiptModel = Model{
		Name:        "receipt",
		ID:          "prebuilt-receipt",
		DateField:   "TransactionDate",
		AmountField: "Total",
		VendorField: "MerchantName",
	}
)

// WithID returns a copy of m that calls a different model id, e.g. a custom
// model trained on the same field names.
func (m Model) WithID(id string) Model {
	if id != "" {
		m.ID = id
	}
	return m
}

// Map reads a Result from the model's fields of doc.
func (m Model) Map(doc *AnalyzedDocument) Result {
	if doc == nil {
		return Result{}
	}
	return Result{
		InvoiceNumber: normalizeText(m.field(doc, m.NumberField)),
		InvoiceDate:   normalizeDate(m.field(doc, m.DateField)),
		InvoiceAmount: normalizeAmount(m.field(doc, m.AmountField)),
		VendorName:    normalizeText(m.field(doc, m.VendorField)),
	}
}

func (m Model) field(doc *AnalyzedDocument, name string) *DocumentField {
	if name == "" {
		return nil
	}
	f, ok := doc.Fields[name]
	if !ok {
		return nil
	}
	return &f
}
