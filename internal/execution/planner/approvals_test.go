package planner

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/ggonzalez94/tomo-cli/internal/address"
	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
	"github.com/ggonzalez94/tomo-cli/internal/execution"
)

type allowanceCaller struct {
	allowance *big.Int
	err       error
	requests  []execution.CallRequest
}

func (c *allowanceCaller) CallContract(_ context.Context, req execution.CallRequest) ([]byte, error) {
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	return common.LeftPadBytes(c.allowance.Bytes(), 32), nil
}

var (
	testToken   = address.MustParse("0xa614f803b6fd780986a42c78ec9c7f77e6ded13c")
	testOwner   = address.MustParse("0x00000000000000000000000000000000000000AA")
	testSpender = address.MustParse("0x00000000000000000000000000000000000000BB")
)

func TestPlanApprovalBuildsExactApprove(t *testing.T) {
	caller := &allowanceCaller{allowance: big.NewInt(10)}
	approval, err := PlanApproval(context.Background(), caller, ApprovalRequest{
		Token:   testToken,
		Owner:   testOwner,
		Spender: testSpender,
		Amount:  big.NewInt(1_000_000),
	})
	if err != nil {
		t.Fatalf("PlanApproval failed: %v", err)
	}
	if !approval.Needed() {
		t.Fatal("expected an approval call")
	}
	if approval.Call.To != testToken || approval.Call.From != testOwner {
		t.Fatalf("unexpected approval endpoints %+v", approval.Call)
	}
	if approval.Call.Selector() != "0x095ea7b3" {
		t.Fatalf("unexpected selector %s", approval.Call.Selector())
	}
	if approval.Current.Int64() != 10 || approval.Amount.Int64() != 1_000_000 {
		t.Fatalf("unexpected amounts %+v", approval)
	}
	if len(caller.requests) != 1 || caller.requests[0].Selector() != "0xdd62ed3e" {
		t.Fatalf("expected one allowance read, got %+v", caller.requests)
	}
}

func TestPlanApprovalSkipsWhenCovered(t *testing.T) {
	caller := &allowanceCaller{allowance: big.NewInt(1_000_000)}
	approval, err := PlanApproval(context.Background(), caller, ApprovalRequest{
		Token:   testToken,
		Owner:   testOwner,
		Spender: testSpender,
		Amount:  big.NewInt(1_000_000),
	})
	if err != nil {
		t.Fatalf("PlanApproval failed: %v", err)
	}
	if approval.Needed() {
		t.Fatalf("expected no approval call, got %+v", approval.Call)
	}
}

func TestPlanApprovalMaxRequiresOptIn(t *testing.T) {
	caller := &allowanceCaller{allowance: big.NewInt(0)}
	approval, err := PlanApproval(context.Background(), caller, ApprovalRequest{
		Token:            testToken,
		Owner:            testOwner,
		Spender:          testSpender,
		Amount:           big.NewInt(5),
		AllowMaxApproval: true,
	})
	if err != nil {
		t.Fatalf("PlanApproval failed: %v", err)
	}
	if approval.Amount.Cmp(math.MaxBig256) != 0 {
		t.Fatalf("expected unlimited approval, got %s", approval.Amount)
	}
}

func TestPlanApprovalRejectsInvalidAmount(t *testing.T) {
	_, err := PlanApproval(context.Background(), &allowanceCaller{allowance: big.NewInt(0)}, ApprovalRequest{
		Token:   testToken,
		Owner:   testOwner,
		Spender: testSpender,
		Amount:  big.NewInt(0),
	})
	if !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestPlanApprovalSurfacesReadFailure(t *testing.T) {
	_, err := PlanApproval(context.Background(), &allowanceCaller{err: errors.New("boom")}, ApprovalRequest{
		Token:   testToken,
		Owner:   testOwner,
		Spender: testSpender,
		Amount:  big.NewInt(1),
	})
	if !clierr.Is(err, clierr.CodeUnavailable) {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestValidateApprovalCallBounded(t *testing.T) {
	data, err := plannerERC20ABI.Pack("approve", testSpender.Common(), big.NewInt(100))
	if err != nil {
		t.Fatalf("pack approval calldata: %v", err)
	}
	if err := ValidateApprovalCall(data, big.NewInt(100), false); err != nil {
		t.Fatalf("expected bounded approval to pass, got err=%v", err)
	}
}

func TestValidateApprovalCallRejectsUnboundedByDefault(t *testing.T) {
	data, err := plannerERC20ABI.Pack("approve", testSpender.Common(), big.NewInt(101))
	if err != nil {
		t.Fatalf("pack approval calldata: %v", err)
	}
	err = ValidateApprovalCall(data, big.NewInt(100), false)
	if err == nil {
		t.Fatal("expected bounded-approval validation to fail")
	}
	if !strings.Contains(err.Error(), "allow-max-approval") {
		t.Fatalf("expected override hint, got err=%v", err)
	}
	if err := ValidateApprovalCall(data, big.NewInt(100), true); err != nil {
		t.Fatalf("expected approval override to pass, got err=%v", err)
	}
}

func TestBalanceOf(t *testing.T) {
	caller := &allowanceCaller{allowance: big.NewInt(224412579)}
	balance, err := BalanceOf(context.Background(), caller, testToken, testOwner)
	if err != nil {
		t.Fatalf("BalanceOf failed: %v", err)
	}
	if balance.Int64() != 224412579 || caller.requests[0].Selector() != "0x70a08231" {
		t.Fatalf("unexpected balance read %s %s", balance, caller.requests[0].Selector())
	}
}
