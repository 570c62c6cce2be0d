package shared

import "fmt"

// IdempotencyModuleReceipts scopes receipt journaling keys.
const IdempotencyModuleReceipts = "collection.receipt"

// ReceiptIdempotencyKey builds the idempotency key for a receipt.
func ReceiptIdempotencyKey(receiptID string) string {
	return fmt.Sprintf("receipt:%s", receiptID)
}
