package contract

// greenDishABI covers the subset of the GreenDish token contract the
// front-end calls: the ERC-20 reads, the rewards reads and registration.
const greenDishABI = `
[
  {
    "name": "restaurantRegister",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      { "name": "restaurantName", "type": "string" },
      { "name": "supplySource", "type": "uint8" },
      { "name": "supplyDetails", "type": "string" },
      { "name": "dishName", "type": "string" },
      { "name": "dishMainComponent", "type": "string" },
      { "name": "dishCarbonCredits", "type": "uint256" },
      { "name": "dishPrice", "type": "uint256" }
    ],
    "outputs": []
  },
  {
    "name": "areTokenRewardsAvailable",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{ "name": "", "type": "bool" }]
  },
  {
    "name": "getRemainingTokenSupply",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{ "name": "", "type": "uint256" }]
  },
  {
    "name": "owner",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{ "name": "", "type": "address" }]
  },
  {
    "name": "name",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{ "name": "", "type": "string" }]
  },
  {
    "name": "symbol",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{ "name": "", "type": "string" }]
  },
  {
    "name": "decimals",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{ "name": "", "type": "uint8" }]
  },
  {
    "name": "totalSupply",
    "type": "function",
    "stateMutability": "view",
    "inputs": [],
    "outputs": [{ "name": "", "type": "uint256" }]
  },
  {
    "name": "balanceOf",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{ "name": "account", "type": "address" }],
    "outputs": [{ "name": "", "type": "uint256" }]
  }
]
`
