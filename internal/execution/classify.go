package execution

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/rpc"

	xerrors "IntentForge/internal/errors"
)

const maxErrorRunes = 120

// Messages shown to the user for classified failures.
const (
	MsgRejected     = "Transaction was rejected in your wallet."
	MsgInsufficient = "Insufficient funds to cover the amount plus gas."
	MsgGasEstimate  = "Transaction would fail: gas estimation reverted. Check balances, allowances and parameters."
	MsgNonce        = "Nonce conflict: a pending transaction is blocking this one. Wait for it to confirm or speed it up."
	MsgNetwork      = "Network error while sending the transaction. Check your connection and try again."
	MsgWrongChain   = "Wallet is connected to the wrong network. Switch networks and try again."

	MsgReverted = "Transaction reverted on-chain. The contract rejected the call."
	MsgOutOfGas = "Transaction ran out of gas on-chain."
)

// EIP-1193 provider error codes.
const (
	codeUserRejected      = 4001
	codeDisconnected      = 4900
	codeChainDisconnected = 4901
	codeUnrecognizedChain = 4902
)

// Classification is the outcome of classifying a wallet or RPC failure.
type Classification struct {
	Status  Status
	Code    xerrors.Code
	Message string
}

type sendPattern struct {
	phrases []string
	message string
}

// sendPatterns is evaluated in order; the first match wins.
var sendPatterns = []sendPattern{
	{[]string{"user rejected", "user denied", "declined", "cancelled", "action_rejected"}, MsgRejected},
	{[]string{"insufficient funds", "insufficient balance", "exceeds balance"}, MsgInsufficient},
	{[]string{"gas required exceeds", "cannot estimate gas", "execution reverted", "intrinsic gas too low", "estimategas"}, MsgGasEstimate},
	{[]string{"nonce too low", "nonce too high", "replacement transaction underpriced", "already known", "invalid nonce"}, MsgNonce},
	{[]string{"network error", "timeout", "timed out", "deadline exceeded", "connection refused", "connection reset", "no such host", "failed to fetch"}, MsgNetwork},
	{[]string{"chain id", "chainid", "wrong network", "unrecognized chain", "does not match the target chain"}, MsgWrongChain},
}

// Classify maps a wallet or broadcast error onto wallet_rejected or
// send_error. Structured EIP-1193 codes take precedence over the text.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeUserRejected:
			return rejected()
		case codeDisconnected, codeChainDisconnected, codeUnrecognizedChain:
			return sendError(MsgWrongChain)
		}
	}
	text := strings.ToLower(err.Error())
	for i, pattern := range sendPatterns {
		if !containsAny(text, pattern.phrases) {
			continue
		}
		if i == 0 {
			return rejected()
		}
		return sendError(pattern.message)
	}
	return sendError("Transaction failed: " + truncate(err.Error()))
}

// ClassifyReceiptError maps a failure observed while waiting for a receipt.
func ClassifyReceiptError(err error) string {
	if err == nil {
		return ""
	}
	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "revert"):
		return MsgReverted
	case strings.Contains(text, "out of gas"):
		return MsgOutOfGas
	default:
		return "Transaction failed on-chain: " + truncate(err.Error())
	}
}

func rejected() Classification {
	return Classification{Status: StatusWalletRejected, Code: xerrors.CodeWalletRejected, Message: MsgRejected}
}

func sendError(message string) Classification {
	return Classification{Status: StatusSendError, Code: xerrors.CodeSendFailure, Message: message}
}

func containsAny(text string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

func truncate(message string) string {
	message = strings.TrimSpace(message)
	if utf8.RuneCountInString(message) <= maxErrorRunes {
		return message
	}
	runes := []rune(message)
	return string(runes[:maxErrorRunes]) + "..."
}
