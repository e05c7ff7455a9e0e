package models

// All lists every persisted model, in dependency order, for schema bootstrap
// in local SQLite runs and tests.
func All() []any {
	return []any{
		&Product{},
		&Variant{},
		&StockUnit{},
		&Voucher{},
		&Order{},
		&OrderLine{},
		&PaymentTransaction{},
		&JobRun{},
		&OutboxEvent{},
	}
}
