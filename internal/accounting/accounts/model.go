package accounts

import "time"

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
	AccountTypeCOGS      AccountType = "COGS"
)

// BalanceSide identifies which side carries an account's positive balance.
type BalanceSide string

const (
	BalanceSideDebit  BalanceSide = "DEBIT"
	BalanceSideCredit BalanceSide = "CREDIT"
)

// Account models a chart of accounts node. Only postable leaves accept
// ledger lines; header nodes group them.
type Account struct {
	ID         int64
	Code       string
	Name       string
	Type       AccountType
	NormalSide BalanceSide
	IsPostable bool
	ParentID   *int64
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsNominal reports whether the account is an income-statement account
// that resets to zero at a fiscal year boundary.
func (t AccountType) IsNominal() bool {
	switch t {
	case AccountTypeRevenue, AccountTypeExpense, AccountTypeCOGS:
		return true
	default:
		return false
	}
}

// DefaultNormalSide returns the conventional balance side for a type.
func DefaultNormalSide(t AccountType) BalanceSide {
	switch t {
	case AccountTypeAsset, AccountTypeExpense, AccountTypeCOGS:
		return BalanceSideDebit
	default:
		return BalanceSideCredit
	}
}
