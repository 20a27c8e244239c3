package feeds

// Chainlink aggregators on Polygon mainnet. USD pairs report 8 decimals.
var polygonCatalog = []Entry{
	{Symbol: "ETH/USD", Address: "0xF9680D99D6C9589e2a93a78A04A279e509205945", Decimals: 8},
	{Symbol: "BTC/USD", Address: "0xc907E116054Ad103354f2D350FD2514433D57F6f", Decimals: 8},
	{Symbol: "MATIC/USD", Address: "0xAB594600376Ec9fD91F8e885dADF0CE036862dE0", Decimals: 8},
	{Symbol: "LINK/USD", Address: "0xd9FFdb71EbE7496cC440152d43986Aae0AB76665", Decimals: 8},
	{Symbol: "SOL/USD", Address: "0x10C8264C0935b3B9870013e057f330Ff3e9C56dC", Decimals: 8},
	{Symbol: "USDC/USD", Address: "0xfE4A8cc5b5B2366C1B58Bea3858e81843581b2F7", Decimals: 8, HeartbeatSeconds: StablecoinHeartbeatSeconds},
	{Symbol: "USDT/USD", Address: "0x0A6513e40db6EB1b165753AD52E80663aeA50545", Decimals: 8, HeartbeatSeconds: StablecoinHeartbeatSeconds},
	{Symbol: "DAI/USD", Address: "0x4746DeC9e833A82EC7C2C1356372CcF2cfcD2F3D", Decimals: 8, HeartbeatSeconds: StablecoinHeartbeatSeconds},
}

// Default returns the compiled-in Polygon catalog with the given default
// heartbeat; a non-positive value selects DefaultHeartbeatSeconds.
func Default(defaultHeartbeat int64) *Registry {
	if defaultHeartbeat <= 0 {
		defaultHeartbeat = DefaultHeartbeatSeconds
	}
	r, err := New(NetworkPolygon, defaultHeartbeat, polygonCatalog)
	if err != nil {
		panic("invalid compiled-in feed catalog: " + err.Error())
	}
	return r
}
