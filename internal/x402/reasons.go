package x402

// Machine-readable reason codes returned in VerifyResponse.InvalidReason and
// SettleResponse.ErrorReason. Raw internal error text never crosses the
// facilitator boundary; callers always get one of these.
const (
	// Protocol mismatch
	ReasonInvalidScheme  = "invalid_scheme"
	ReasonInvalidNetwork = "invalid_network"

	// Malformed input
	ReasonInvalidPayload = "invalid_payload"

	// Authentication failure
	ReasonInvalidSignature = "invalid_signature"

	// Time-window failure
	ReasonAuthorizationExpired     = "authorization_expired"
	ReasonAuthorizationNotYetValid = "authorization_not_yet_valid"

	// Funding-object failure
	ReasonUTXONotSpendable          = "utxo_not_spendable"
	ReasonUTXOOutputNotFound        = "utxo_output_not_found"
	ReasonInsufficientConfirmations = "insufficient_confirmations"
	ReasonRecipientMismatch         = "recipient_mismatch"
	ReasonUTXOPreviousSpendDetected = "utxo_previous_spend_detected"
	ReasonInsufficientUTXOBalance   = "insufficient_utxo_balance"
	ReasonInvalidUTXOValue          = "invalid_utxo_value"

	// Economic failure
	ReasonInsufficientFunds         = "insufficient_funds"
	ReasonAuthorizationValueTooLow  = "authorization_value_too_low"
	ReasonInvalidAuthorizationValue = "invalid_exact_payload_authorization_value"

	// Settlement failure
	ReasonInvalidTransactionState = "invalid_transaction_state"

	// Infrastructure failure
	ReasonUnexpectedVerifyError         = "unexpected_verify_error"
	ReasonUnexpectedSettleError         = "unexpected_settle_error"
	ReasonUTXOValidationFailed          = "utxo_validation_failed"
	ReasonUnexpectedUTXOValidationError = "unexpected_utxo_validation_error"
)
