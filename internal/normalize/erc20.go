package normalize

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// TransferSelector is the 4-byte selector of transfer(address,uint256).
	TransferSelector = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	// BalanceOfSelector is the 4-byte selector of balanceOf(address).
	BalanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	// TransferTopic identifies Transfer(address,address,uint256) logs.
	TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

// EncodeTransfer builds the call data of an ERC-20 transfer. Only the two
// argument signature is needed, so no ABI is loaded.
func EncodeTransfer(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+2*32)
	data = append(data, TransferSelector...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

func EncodeBalanceOf(owner common.Address) []byte {
	data := make([]byte, 0, 4+32)
	data = append(data, BalanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	return data
}

// decodeTransfer is the inverse of EncodeTransfer. ok is false for any other
// call.
func decodeTransfer(input []byte) (to common.Address, amount *big.Int, ok bool) {
	if len(input) != 4+2*32 || !bytes.HasPrefix(input, TransferSelector) {
		return common.Address{}, nil, false
	}
	to = common.BytesToAddress(input[4 : 4+32])
	amount = new(big.Int).SetBytes(input[4+32:])
	return to, amount, true
}

// word reads a 32-byte ABI word as an unsigned integer. Shorter payloads are
// read as is.
func word(data []byte) *big.Int {
	if len(data) > 32 {
		data = data[:32]
	}
	return new(big.Int).SetBytes(data)
}
