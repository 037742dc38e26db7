package models

// All lists every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&ActivityEvent{},
		&UserProgress{},
		&MintRecord{},
		&SoulboundToken{},
		&WalletMirror{},
		&MintAlert{},
	}
}
