package domain

// TransactionView is a Transaction as presented to clients: counterpart identifiers are
// decrypted and each side gets a display string. It is computed on read and never stored.
type TransactionView struct {
	Transaction
	FromAccountNumber string `json:"from_account_number,omitempty"`
	ToAccountNumber   string `json:"to_account_number,omitempty"`
	ExternalFromIBAN  string `json:"external_from_iban,omitempty"`
	ExternalToIBAN    string `json:"external_to_iban,omitempty"`
	FromDisplay       string `json:"from_display"`
	ToDisplay         string `json:"to_display"`
}

// NewTransactionView derives the presentation view from a stored row and its decrypted
// counterpart identifiers.
func NewTransactionView(t Transaction, fromAccountNumber, toAccountNumber, fromIBAN, toIBAN string) TransactionView {
	return TransactionView{
		Transaction:       t,
		FromAccountNumber: fromAccountNumber,
		ToAccountNumber:   toAccountNumber,
		ExternalFromIBAN:  fromIBAN,
		ExternalToIBAN:    toIBAN,
		FromDisplay:       display(fromAccountNumber, Deref(t.ExternalFromName), fromIBAN),
		ToDisplay:         display(toAccountNumber, Deref(t.ExternalToName), toIBAN),
	}
}

// display picks the account number, else "name (iban)", else whichever is set.
func display(accountNumber, name, iban string) string {
	switch {
	case accountNumber != "":
		return accountNumber
	case name != "" && iban != "":
		return name + " (" + iban + ")"
	case name != "":
		return name
	default:
		return iban
	}
}
