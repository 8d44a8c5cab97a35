package models

import "time"

type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
	RoleAdmin      Role = "admin"
)

// User is the local record of an identity issued elsewhere.
type User struct {
	ID          string    `db:"id" json:"id"`
	Email       string    `db:"email" json:"email"`
	DisplayName string    `db:"display_name" json:"display_name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	Roles       []Role    `db:"-" json:"roles"`
}

type Account struct {
	ID        string    `db:"id" json:"id"`
	UserID    *string   `db:"user_id" json:"user_id,omitempty"`
	Balance   int64     `db:"balance" json:"balance"`
	IsSystem  bool      `db:"is_system" json:"is_system"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type EntryKind string

const (
	KindDeposit    EntryKind = "deposit"
	KindWithdrawal EntryKind = "withdrawal"
	KindTaskDebit  EntryKind = "task_debit"
	KindTaskCredit EntryKind = "task_credit"
	KindCommission EntryKind = "commission"
	KindRefund     EntryKind = "refund"
)

func (k EntryKind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindTaskDebit, KindTaskCredit, KindCommission, KindRefund:
		return true
	}
	return false
}

// LedgerEntry is immutable once written. Seq orders entries of one account.
type LedgerEntry struct {
	Seq          int64     `db:"seq" json:"seq"`
	ID           string    `db:"id" json:"id"`
	AccountID    string    `db:"account_id" json:"account_id"`
	Amount       int64     `db:"amount" json:"amount"`
	Kind         EntryKind `db:"kind" json:"kind"`
	BalanceAfter int64     `db:"balance_after" json:"balance_after"`
	ReferenceID  string    `db:"reference_id" json:"reference_id"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type TaskStatus string

const (
	TaskDraft      TaskStatus = "draft"
	TaskOpen       TaskStatus = "open"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskApproved   TaskStatus = "approved"
	TaskPaid       TaskStatus = "paid"
	TaskCancelled  TaskStatus = "cancelled"
	TaskDisputed   TaskStatus = "disputed"
)

type Task struct {
	ID             string     `db:"id" json:"id"`
	ClientID       string     `db:"client_id" json:"client_id"`
	FreelancerID   *string    `db:"freelancer_id" json:"freelancer_id,omitempty"`
	Title          string     `db:"title" json:"title"`
	Description    string     `db:"description" json:"description"`
	Category       string     `db:"category" json:"category"`
	Urgency        string     `db:"urgency" json:"urgency"`
	DurationDays   int        `db:"duration_days" json:"duration_days"`
	Budget         int64      `db:"budget" json:"budget"`
	PlatformFee    int64      `db:"platform_fee" json:"platform_fee"`
	TransactionFee int64      `db:"transaction_fee" json:"transaction_fee"`
	Status         TaskStatus `db:"status" json:"status"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	AssignedAt     *time.Time `db:"assigned_at" json:"assigned_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

type Proposal struct {
	ID            string         `db:"id" json:"id"`
	TaskID        string         `db:"task_id" json:"task_id"`
	FreelancerID  string         `db:"freelancer_id" json:"freelancer_id"`
	BidAmount     int64          `db:"bid_amount" json:"bid_amount"`
	CoverLetter   string         `db:"cover_letter" json:"cover_letter"`
	EstimatedDays int            `db:"estimated_days" json:"estimated_days"`
	Status        ProposalStatus `db:"status" json:"status"`
	SubmittedAt   time.Time      `db:"submitted_at" json:"submitted_at"`
}

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentCompleted IntentStatus = "completed"
	IntentFailed    IntentStatus = "failed"
	IntentRefunded  IntentStatus = "refunded"
)

type PaymentIntent struct {
	ID               string       `db:"id" json:"id"`
	AccountID        string       `db:"account_id" json:"account_id"`
	Amount           int64        `db:"amount" json:"amount"`
	Method           string       `db:"method" json:"method"`
	GatewayReference string       `db:"gateway_reference" json:"gateway_reference"`
	Status           IntentStatus `db:"status" json:"status"`
	Metadata         string       `db:"metadata" json:"metadata"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	ResolvedAt       *time.Time   `db:"resolved_at" json:"resolved_at,omitempty"`
}

type WithdrawalStatus string

const (
	WithdrawalPending WithdrawalStatus = "pending"
	WithdrawalPaid    WithdrawalStatus = "paid"
	WithdrawalFailed  WithdrawalStatus = "failed"
)

type Withdrawal struct {
	ID         string           `db:"id" json:"id"`
	AccountID  string           `db:"account_id" json:"account_id"`
	Amount     int64            `db:"amount" json:"amount"`
	Method     string           `db:"method" json:"method"`
	Status     WithdrawalStatus `db:"status" json:"status"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	ResolvedAt *time.Time       `db:"resolved_at" json:"resolved_at,omitempty"`
}
