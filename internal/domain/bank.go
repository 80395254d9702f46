package domain

import "time"

// Bank is a settlement bank.
type Bank struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Code    string `json:"code"`
	LogoURL string `json:"logo,omitempty"`
}

// SavedAccount is a previously verified bank account, most-recent-first in storage.
type SavedAccount struct {
	ID            string    `json:"id"`
	BankName      string    `json:"bank_name"`
	BankCode      string    `json:"bank_code"`
	AccountNumber string    `json:"account_number"`
	AccountName   string    `json:"account_name"`
	LastUsed      time.Time `json:"last_used"`
}

// Details converts a saved account into order bank details.
func (a SavedAccount) Details() BankDetails {
	return BankDetails{
		BankName:      a.BankName,
		BankCode:      a.BankCode,
		AccountNumber: a.AccountNumber,
		AccountName:   a.AccountName,
	}
}

// MaxSavedAccounts caps the saved-accounts list.
const MaxSavedAccounts = 5

// NigerianBanks is the supported bank list.
var NigerianBanks = []Bank{
	{ID: "1", Name: "Access Bank", Code: "044", LogoURL: "https://nigerianbanks.xyz/logo/access-bank.png"},
	{ID: "2", Name: "Guaranty Trust Bank", Code: "058", LogoURL: "https://nigerianbanks.xyz/logo/guaranty-trust-bank.png"},
	{ID: "3", Name: "First Bank of Nigeria", Code: "011", LogoURL: "https://nigerianbanks.xyz/logo/first-bank-of-nigeria.png"},
	{ID: "4", Name: "United Bank for Africa", Code: "033", LogoURL: "https://nigerianbanks.xyz/logo/united-bank-for-africa.png"},
	{ID: "5", Name: "Zenith Bank", Code: "057", LogoURL: "https://nigerianbanks.xyz/logo/zenith-bank.png"},
	{ID: "6", Name: "Stanbic IBTC Bank", Code: "221", LogoURL: "https://nigerianbanks.xyz/logo/stanbic-ibtc-bank.png"},
	{ID: "7", Name: "Sterling Bank", Code: "232", LogoURL: "https://nigerianbanks.xyz/logo/sterling-bank.png"},
	{ID: "8", Name: "Union Bank of Nigeria", Code: "032", LogoURL: "https://nigerianbanks.xyz/logo/union-bank-of-nigeria.png"},
	{ID: "9", Name: "Wema Bank", Code: "035", LogoURL: "https://nigerianbanks.xyz/logo/wema-bank.png"},
	{ID: "10", Name: "Fidelity Bank", Code: "070", LogoURL: "https://nigerianbanks.xyz/logo/fidelity-bank.png"},
	{ID: "11", Name: "Kuda Bank", Code: "50211", LogoURL: "https://nigerianbanks.xyz/logo/kuda-bank.png"},
	{ID: "12", Name: "OPay", Code: "999992", LogoURL: "https://nigerianbanks.xyz/logo/opay.png"},
	{ID: "13", Name: "Palmpay", Code: "999991", LogoURL: "https://nigerianbanks.xyz/logo/palmpay.png"},
	{ID: "14", Name: "Moniepoint", Code: "50515", LogoURL: "https://nigerianbanks.xyz/logo/moniepoint.png"},
	{ID: "15", Name: "First City Monument Bank", Code: "214", LogoURL: "https://nigerianbanks.xyz/logo/first-city-monument-bank.png"},
}

// FindBank returns the bank with the given code.
func FindBank(code string) (Bank, bool) {
	for _, b := range NigerianBanks {
		if b.Code == code {
			return b, true
		}
	}
	return Bank{}, false
}

// ValidAccountNumber reports whether s is a 10-digit NUBAN.
func ValidAccountNumber(s string) bool {
	if len(s) != 10 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
