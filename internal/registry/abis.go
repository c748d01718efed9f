package registry

// ABI fragments used by the planner, permit signer and approval builder.
const (
	ERC20MinimalABI = `[
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
	]`

	Permit2ABI = `[
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"amount","type":"uint160"},{"name":"expiration","type":"uint48"},{"name":"nonce","type":"uint48"}]},
		{"name":"permit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"permitSingle","type":"tuple","components":[{"name":"details","type":"tuple","components":[{"name":"token","type":"address"},{"name":"amount","type":"uint160"},{"name":"expiration","type":"uint48"},{"name":"nonce","type":"uint48"}]},{"name":"spender","type":"address"},{"name":"sigDeadline","type":"uint256"}]},{"name":"signature","type":"bytes"}],"outputs":[]},
		{"name":"DOMAIN_SEPARATOR","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]}
	]`

	// ProtocolABI carries both dispatch overloads; go-ethereum exposes the
	// second one as "execute0".
	ProtocolABI = `[
		{"name":"execute","type":"function","stateMutability":"payable","inputs":[{"name":"commands","type":"bytes"},{"name":"inputs","type":"bytes[]"},{"name":"deadline","type":"uint256"}],"outputs":[]},
		{"name":"execute","type":"function","stateMutability":"payable","inputs":[{"name":"commands","type":"bytes"},{"name":"inputs","type":"bytes[]"}],"outputs":[]}
	]`
)

// Function signatures as TRON node APIs expect them in function_selector.
const (
	ExecuteSignature         = "execute(bytes,bytes[],uint256)"
	PermitSignature          = "permit(address,((address,uint160,uint48,uint48),address,uint256),bytes)"
	AllowanceSignature       = "allowance(address,address,address)"
	ERC20ApproveSignature    = "approve(address,uint256)"
	ERC20AllowanceSignature  = "allowance(address,address)"
	ERC20BalanceOfSignature  = "balanceOf(address)"
	DomainSeparatorSignature = "DOMAIN_SEPARATOR()"
)
