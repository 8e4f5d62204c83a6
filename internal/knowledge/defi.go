package knowledge

// DefaultSnippets 返回内置的 DeFi 入门知识。
func DefaultSnippets() []Snippet {
	return []Snippet{
		{
			Title: "Uniswap and DEXs",
			Content: "Decentralized exchanges let users trade tokens from their own wallet through automated market makers. " +
				"No KYC and users keep custody. Popular DEXs: Uniswap, SushiSwap, PancakeSwap. Always check token contracts and slippage.",
			Keywords: []string{"uniswap", "dex", "swap", "amm", "sushiswap", "pancakeswap"},
			Tags:     []string{"trading"},
		},
		{
			Title: "Yield farming and staking",
			Content: "Yield farming means providing liquidity to earn fees and rewards; staking locks tokens to secure a network for rewards. " +
				"APY can be high but risky: impermanent loss, smart contract bugs, market volatility.",
			Keywords: []string{"yield", "farming", "staking", "stake", "apy", "liquidity"},
			Tags:     []string{"rewards"},
		},
		{
			Title: "Lending and borrowing",
			Content: "DeFi lending protocols pay interest on deposits and let users borrow against crypto collateral. " +
				"Platforms: Aave, Compound, MakerDAO. Watch out for liquidation risk and changing interest rates.",
			Keywords: []string{"lending", "lend", "borrow", "aave", "compound", "makerdao", "collateral", "liquidation"},
			Tags:     []string{"credit"},
		},
		{
			Title: "DeFi overview",
			Content: "Decentralized finance is financial services built on blockchains without banks: DEXs, lending protocols, " +
				"yield farming and smart contract automation. Start small and never invest more than you can afford to lose.",
			Keywords: []string{"defi", "decentralized finance", "smart contract", "web3"},
			Tags:     []string{"basics"},
		},
	}
}
