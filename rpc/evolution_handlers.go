package rpc

import (
	"encoding/hex"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"evlvault/native/evolution"
)

func decodeParam(req *RPCRequest, dst interface{}) *RPCError {
	if len(req.Params) != 1 {
		return invalidParams("expected a single parameter object", nil)
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		return invalidParams("invalid parameter object", err)
	}
	return nil
}

func verificationType(raw uint8) (evolution.VerificationType, *RPCError) {
	vt := evolution.VerificationType(raw)
	if !vt.Valid() {
		return 0, engineError(evolution.ErrUnknownVerificationType)
	}
	return vt, nil
}

func (s *Server) handleMakeCommitment(req *RPCRequest) (interface{}, *RPCError) {
	var params makeCommitmentParams
	if rpcErr := decodeParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	vt, rpcErr := verificationType(params.VerificationType)
	if rpcErr != nil {
		return nil, rpcErr
	}
	referrer, err := parseOptionalAddressField("referrer", params.Referrer)
	if err != nil {
		return nil, invalidParams("invalid referrer", err)
	}
	return makeCommitmentResult{
		Commitment: evolution.MakeCommitment(vt, referrer, params.Timestamp).Hex(),
		Encoded:    "0x" + hex.EncodeToString(evolution.EncodeCommitment(vt, referrer, params.Timestamp)),
	}, nil
}

func (s *Server) handleRegister(req *RPCRequest) (interface{}, *RPCError) {
	var params registerParams
	if rpcErr := decodeParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	user, err := parseAddressField("user", params.User)
	if err != nil {
		return nil, invalidParams("invalid user", err)
	}
	referrer, err := parseOptionalAddressField("referrer", params.Referrer)
	if err != nil {
		return nil, invalidParams("invalid referrer", err)
	}
	commitment, err := parseHashField("commitment", params.Commitment)
	if err != nil {
		return nil, invalidParams("invalid commitment", err)
	}
	sig, err := parseSignatureField(params.Signature)
	if err != nil {
		return nil, invalidParams("invalid signature", err)
	}
	registered, err := s.node.Register(evolution.RegistrationRequest{
		User:             user,
		VerificationType: evolution.VerificationType(params.VerificationType),
		Referrer:         referrer,
		Timestamp:        params.Timestamp,
		Commitment:       commitment,
		Signature:        sig,
	})
	if err != nil {
		return nil, engineError(err)
	}
	return s.userResult(registered)
}

func (s *Server) handlePromote(req *RPCRequest) (interface{}, *RPCError) {
	var params userParams
	if rpcErr := decodeParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := parseAddressField("user", params.User)
	if err != nil {
		return nil, invalidParams("invalid user", err)
	}
	promoted, err := s.node.Promote(addr)
	if err != nil {
		return nil, engineError(err)
	}
	return s.userResult(promoted)
}

func (s *Server) handleGetApprover() (interface{}, *RPCError) {
	approver, err := s.node.Engine().Approver()
	if err != nil {
		return nil, engineError(err)
	}
	return approver.Hex(), nil
}

func (s *Server) handleGetParams() (interface{}, *RPCError) {
	params, err := s.node.Engine().Params()
	if err != nil {
		return nil, engineError(err)
	}
	pool, err := s.node.Engine().RewardPool()
	if err != nil {
		return nil, engineError(err)
	}
	return ParamsResult{
		TotalLevels:       params.TotalLevels,
		Owner:             params.Owner.Hex(),
		Approver:          params.Approver.Hex(),
		RewardPercentages: []uint64(params.Rewards.Clone()),
		CommitmentMaxAge:  params.CommitmentMaxAge,
		SingleUse:         params.SingleUseApprovals,
		RewardPool:        amountString(pool),
	}, nil
}

func (s *Server) handleGetCriteria() (interface{}, *RPCError) {
	table, err := s.node.Engine().Criteria()
	if err != nil {
		return nil, engineError(err)
	}
	return criteriaResultFrom(table), nil
}

func (s *Server) handleGetRewardPercentages() (interface{}, *RPCError) {
	table, err := s.node.Engine().RewardPercentages()
	if err != nil {
		return nil, engineError(err)
	}
	return []uint64(table), nil
}

func (s *Server) handleIsWhitelisted(req *RPCRequest) (interface{}, *RPCError) {
	var params userParams
	if rpcErr := decodeParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := parseAddressField("user", params.User)
	if err != nil {
		return nil, invalidParams("invalid user", err)
	}
	ok, err := s.node.Engine().IsWhitelisted(addr)
	if err != nil {
		return nil, engineError(err)
	}
	return ok, nil
}

func (s *Server) handleGetUser(req *RPCRequest) (interface{}, *RPCError) {
	var params userParams
	if rpcErr := decodeParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, err := parseAddressField("user", params.User)
	if err != nil {
		return nil, invalidParams("invalid user", err)
	}
	user, err := s.node.Engine().User(addr)
	if err != nil {
		return nil, engineError(err)
	}
	return s.userResult(user)
}

func (s *Server) handlePreviewReward(req *RPCRequest) (interface{}, *RPCError) {
	var params previewRewardParams
	if rpcErr := decodeParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	base, err := parseAmountField("base", params.Base)
	if err != nil {
		return nil, invalidParams("invalid base", err)
	}
	reward, err := s.node.Engine().PreviewReward(params.Level, base)
	if err != nil {
		return nil, engineError(err)
	}
	return reward.String(), nil
}

func (s *Server) userResult(user *evolution.User) (interface{}, *RPCError) {
	balance, err := s.node.Engine().Balance(user.Address)
	if err != nil {
		return nil, engineError(err)
	}
	eligible, err := s.node.Engine().IsEligible(user.Address)
	if err != nil {
		return nil, engineError(err)
	}
	return userResultFrom(user, balance, eligible), nil
}

// --- Admin methods ---

func (s *Server) dispatchAdmin(caller common.Address, req *RPCRequest) (interface{}, *RPCError) {
	switch req.Method {
	case "evolution_setApprover":
		var params setApproverParams
		if rpcErr := decodeParam(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
		approver, err := parseOptionalAddressField("approver", params.Approver)
		if err != nil {
			return nil, invalidParams("invalid approver", err)
		}
		return adminResult(s.node.SetApprover(caller, approver))
	case "evolution_setRewardPercentages":
		var params setRewardPercentagesParams
		if rpcErr := decodeParam(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
		return adminResult(s.node.SetRewardPercentages(caller, params.Percentages))
	case "evolution_setCriteria":
		var params setCriteriaParams
		if rpcErr := decodeParam(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
		criteria := make([]evolution.Criterion, len(params.Criteria))
		for i, row := range params.Criteria {
			minAmount, err := parseAmountField("minAmount", row.MinAmount)
			if err != nil {
				return nil, invalidParams("invalid criterion", err)
			}
			criteria[i] = evolution.Criterion{
				MinReferrals:         row.MinReferrals,
				MinVerifiedReferrals: row.MinVerifiedReferrals,
				MinAmount:            minAmount,
			}
		}
		return adminResult(s.node.SetCriteria(caller, params.Levels, criteria))
	case "evolution_setWhitelistBatch":
		var params setWhitelistBatchParams
		if rpcErr := decodeParam(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
		addrs := make([]common.Address, len(params.Addresses))
		for i, raw := range params.Addresses {
			addr, err := parseAddressField("addresses", raw)
			if err != nil {
				return nil, invalidParams("invalid whitelist address", err)
			}
			addrs[i] = addr
		}
		return adminResult(s.node.SetWhitelistBatch(caller, addrs, params.Flags))
	case "evolution_transferOwnership":
		var params transferOwnershipParams
		if rpcErr := decodeParam(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
		owner, err := parseAddressField("owner", params.Owner)
		if err != nil {
			return nil, invalidParams("invalid owner", err)
		}
		return adminResult(s.node.TransferOwnership(caller, owner))
	case "evolution_payReward":
		var params payRewardParams
		if rpcErr := decodeParam(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
		addr, err := parseAddressField("user", params.User)
		if err != nil {
			return nil, invalidParams("invalid user", err)
		}
		base, err := parseAmountField("base", params.Base)
		if err != nil {
			return nil, invalidParams("invalid base", err)
		}
		reward, err := s.node.PayReward(caller, addr, base)
		if err != nil {
			return nil, engineError(err)
		}
		pool, err := s.node.Engine().RewardPool()
		if err != nil {
			return nil, engineError(err)
		}
		return PayRewardResult{User: addr.Hex(), Reward: reward.String(), RewardPool: pool.String()}, nil
	default:
		return nil, &RPCError{Code: codeMethodNotFound, Message: "unknown admin method " + req.Method}
	}
}

func adminResult(err error) (interface{}, *RPCError) {
	if err != nil {
		return nil, engineError(err)
	}
	return okResult{OK: true}, nil
}
