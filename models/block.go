package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"runtime"
	"strconv"
	"strings"
)

// GenesisPreviousHash is the previous hash carried by the first block of a chain.
const GenesisPreviousHash = "0"

type Block struct {
	Timestamp    int64         `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	PreviousHash string        `json:"previousHash"`
	Hash         string        `json:"hash"`
	Nonce        uint64        `json:"nonce"`
}

// NewBlock builds a block over a private copy of txs and computes its hash at nonce 0.
func NewBlock(timestamp int64, txs []Transaction, previousHash string) *Block {
	copied := make([]Transaction, len(txs))
	copy(copied, txs)

	block := &Block{
		Timestamp:    timestamp,
		Transactions: copied,
		PreviousHash: previousHash,
	}
	block.Hash = block.CalculateHash()
	return block
}

// CalculateHash returns the lowercase hex SHA-256 of
// previous hash, decimal timestamp, JSON transactions and decimal nonce.
// Construction, mining and validation all go through here.
func (b *Block) CalculateHash() string {
	txs := b.Transactions
	if txs == nil {
		txs = []Transaction{}
	}
	txData, err := json.Marshal(txs)
	if err != nil {
		// Transaction only holds strings and integers.
		panic("models: marshal transactions: " + err.Error())
	}

	var buf strings.Builder
	buf.Grow(len(b.PreviousHash) + len(txData) + 40)
	buf.WriteString(b.PreviousHash)
	buf.WriteString(strconv.FormatInt(b.Timestamp, 10))
	buf.Write(txData)
	buf.WriteString(strconv.FormatUint(b.Nonce, 10))

	sum := sha256.Sum256([]byte(buf.String()))
	return hex.EncodeToString(sum[:])
}

// Mine searches for a nonce whose hash starts with difficulty '0' hex digits.
func (b *Block) Mine(difficulty int) {
	for !MeetsDifficulty(b.Hash, difficulty) {
		b.Nonce++
		b.Hash = b.CalculateHash()

		if b.Nonce%10000 == 0 {
			runtime.Gosched() // Prevent CPU hogging
		}
	}
}

// HasValidTransactions reports whether every transaction names a voter,
// a vote key and a positive timestamp.
func (b *Block) HasValidTransactions() bool {
	for _, tx := range b.Transactions {
		if !tx.IsWellFormed() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the block.
func (b *Block) Clone() *Block {
	clone := *b
	clone.Transactions = make([]Transaction, len(b.Transactions))
	copy(clone.Transactions, b.Transactions)
	return &clone
}

// MeetsDifficulty reports whether hash has at least difficulty leading '0' characters.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if len(hash) < difficulty {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if hash[i] != '0' {
			return false
		}
	}
	return true
}
