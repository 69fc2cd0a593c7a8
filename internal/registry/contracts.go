package registry

// NonfungiblePositionManager deployments by chain id.
var positionManagerByChainID = map[int64]string{
	1:     "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
	10:    "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
	56:    "0x7b8A01B39D58278b5DE7e48c8449c9f4F5170613",
	137:   "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
	8453:  "0x03a520b32C04BF3bEEf7BEb72E919cf822Ed34f1",
	42161: "0xC36442b4a4522E871399CD717aBDD847Ab11FE88",
	43114: "0x655C406EBFa14EE2006250925e54ec43AD184f8B",
}

func PositionManagerAddress(chainID int64) (string, bool) {
	addr, ok := positionManagerByChainID[chainID]
	return addr, ok
}
