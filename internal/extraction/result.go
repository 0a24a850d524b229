package extraction

// Result holds the ledger fields read from one document. An empty string
// means the field was not found.
type Result struct {
	InvoiceNumber string
	InvoiceDate   string // YYYY-MM-DD
	InvoiceAmount string // symbol followed by a decimal number
	VendorName    string
}

// IsEmpty reports whether no field was found.
func (r Result) IsEmpty() bool {
	return r == Result{}
}

// Merge combines two results field by field, preferring primary and falling
// back to fallback where primary is empty.
func Merge(primary, fallback Result) Result {
	return Result{
		InvoiceNumber: firstNonEmpty(primary.InvoiceNumber, fallback.InvoiceNumber),
		InvoiceDate:   firstNonEmpty(primary.InvoiceDate, fallback.InvoiceDate),
		InvoiceAmount: firstNonEmpty(primary.InvoiceAmount, fallback.InvoiceAmount),
		VendorName:    firstNonEmpty(primary.VendorName, fallback.VendorName),
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
