package statement

// amountMode determines how amounts are extracted from a row.
type amountMode int

const (
	// amountSingle means one signed column (e.g. "Amount" with value "-420.00").
	amountSingle amountMode = iota
	// amountSplit means separate withdrawal and deposit columns.
	amountSplit
)

// Profile describes the column layout of one statement export format.
// Adding support for a new bank is just adding a Profile to the profiles slice.
type Profile struct {
	Name        string
	DateCol     string
	DateLayouts []string
	DescCol     string
	AmountMode  amountMode
	AmountCol   string // used when AmountMode == amountSingle
	DebitCol    string // used when AmountMode == amountSplit
	CreditCol   string // used when AmountMode == amountSplit
}

// requiredCols returns the column names that must be present for this profile to match.
func (p Profile) requiredCols() []string {
	cols := []string{p.DateCol, p.DescCol}

	switch p.AmountMode {
	case amountSingle:
		cols = append(cols, p.AmountCol)
	case amountSplit:
		cols = append(cols, p.DebitCol, p.CreditCol)
	}

	return cols
}

// profiles is the ordered list of export formats to try during auto-detection.
// More specific profiles come first to avoid false matches.
var profiles = []Profile{
	{
		Name:        "hdfc",
		DateCol:     "Date",
		DateLayouts: []string{"02/01/06", "02/01/2006"},
		DescCol:     "Narration",
		AmountMode:  amountSplit,
		DebitCol:    "Withdrawal Amt.",
		CreditCol:   "Deposit Amt.",
	},
	{
		Name:        "sbi",
		DateCol:     "Txn Date",
		DateLayouts: []string{"2 Jan 2006", "02-01-2006"},
		DescCol:     "Description",
		AmountMode:  amountSplit,
		DebitCol:    "Debit",
		CreditCol:   "Credit",
	},
	{
		Name:        "upi",
		DateCol:     "Date",
		DateLayouts: []string{"02/01/2006", "2006-01-02"},
		DescCol:     "Transaction Details",
		AmountMode:  amountSingle,
		AmountCol:   "Amount",
	},
	{
		Name:        "generic",
		DateCol:     "Date",
		DateLayouts: []string{"2006-01-02", "02/01/2006", "02-01-2006"},
		DescCol:     "Description",
		AmountMode:  amountSingle,
		AmountCol:   "Amount",
	},
}
